package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/download"
	"sunat-client/internal/ple"
	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/backend"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

type instant struct{}

func (instant) Schedule(time.Duration) poller.Task {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return task(ch)
}

type task chan time.Time

func (t task) Done() <-chan time.Time { return t }
func (t task) Cancel()                {}

func newStack(t *testing.T, opts ...Option) (*Server, *backend.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Cleanup(telemetry.SetOutput(io.Discard))

	fake := New(opts...)
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	b, err := backend.New(backend.Options{BaseURL: srv.URL + "/api/v1", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return fake, b
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t-%d", n)
	}
}

func TestCreateThenDownloadWhenReady(t *testing.T) {
	_, b := newStack(t, WithIDs(sequentialIDs()))
	api := tickets.NewClient(b)
	ctx := context.Background()

	created, err := api.Create(ctx, tickets.CreateRequest{
		OwnerID:    DemoRUC,
		Operation:  tickets.OpDownloadDeclaration,
		Parameters: map[string]string{tickets.ParamPeriod: "202412"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "t-1" || created.Status != tickets.StatusPending {
		t.Fatalf("unexpected created ticket %+v", created)
	}

	coord := download.New(poller.New(api, poller.WithScheduler(instant{})), api, nil, nil)
	var progress []int
	res, err := coord.DownloadWhenReady(ctx, created.ID, download.Options{OnProgress: func(tk tickets.Ticket) {
		progress = append(progress, tk.ProgressPercentage)
	}})
	if err != nil {
		t.Fatalf("DownloadWhenReady: %v", err)
	}
	if len(progress) != 4 || progress[3] != 100 {
		t.Fatalf("progress = %v", progress)
	}
	want := "download_declaration_20123456789_202412.zip"
	if res.File.Name != want || res.Ticket.Output == nil || res.Ticket.Output.Name != want {
		t.Fatalf("unexpected file %q / %+v", res.File.Name, res.Ticket.Output)
	}
	if _, err := ple.InspectArchive(res.File.Data, 0); err != nil {
		t.Fatalf("output is not a zip: %v", err)
	}

	list, err := api.List(ctx, tickets.ListFilter{OwnerID: DemoRUC})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != tickets.StatusDone || list[0].OutputFileName != want {
		t.Fatalf("unexpected list %+v", list)
	}
	stats, err := api.Stats(ctx, DemoRUC)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[tickets.StatusDone] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestErrorScriptSurfacesFailure(t *testing.T) {
	_, b := newStack(t, WithScript(tickets.OpAcceptDeclaration,
		Step{Status: tickets.StatusProcessing, Progress: 50},
		Step{Status: tickets.StatusError, Progress: 50, Message: "Propuesta observada"},
	))
	api := tickets.NewClient(b)
	ctx := context.Background()

	created, err := api.Create(ctx, tickets.CreateRequest{
		OwnerID:    DemoRUC,
		Operation:  tickets.OpAcceptDeclaration,
		Parameters: map[string]string{tickets.ParamPeriod: "202412"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	final, err := poller.New(api, poller.WithScheduler(instant{})).PollUntilTerminal(ctx, created.ID, poller.Options{})
	if !errors.Is(err, apierr.ErrTicketFailed) {
		t.Fatalf("expected ticket failed, got %v", err)
	}
	if final.Failure == nil || final.Failure.Message != "Propuesta observada" {
		t.Fatalf("unexpected failure %+v", final.Failure)
	}
	if _, err := api.FetchOutput(ctx, created.ID); !errors.Is(err, apierr.ErrNotReady) {
		t.Fatalf("expected not ready for failed ticket output, got %v", err)
	}
}

func TestCancelAndExpiry(t *testing.T) {
	now := time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	_, b := newStack(t, WithClock(clock), WithTTL(time.Minute), WithIDs(sequentialIDs()))
	api := tickets.NewClient(b)
	ctx := context.Background()
	req := tickets.CreateRequest{OwnerID: DemoRUC, Operation: tickets.OpDownloadDeclaration, Parameters: map[string]string{tickets.ParamPeriod: "202411"}}

	first, _ := api.Create(ctx, req)
	cancelled, err := api.Cancel(ctx, first.ID)
	if err != nil || cancelled.Status != tickets.StatusCancelled {
		t.Fatalf("Cancel = %+v, %v", cancelled, err)
	}
	if _, err := api.Cancel(ctx, first.ID); !errors.Is(err, apierr.ErrNotReady) {
		t.Fatalf("second cancel should conflict, got %v", err)
	}

	second, _ := api.Create(ctx, req)
	now = now.Add(2 * time.Minute)
	got, err := api.Get(ctx, second.ID)
	if err != nil || got.Status != tickets.StatusExpired {
		t.Fatalf("Get after ttl = %+v, %v", got, err)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	_, b := newStack(t)
	api := tickets.NewClient(b)
	ctx := context.Background()

	if _, err := api.Get(ctx, "missing"); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var ae *apierr.Error
	err := b.DoJSON(ctx, http.MethodPost, "/ticket/"+string(tickets.OpDownloadDeclaration), nil, map[string]any{"ruc": DemoRUC}, nil)
	if !errors.As(err, &ae) || ae.Kind != apierr.KindValidation || len(ae.Details) == 0 {
		t.Fatalf("expected validation error with details, got %v", err)
	}
}

func TestPLEWorkflowAgainstFake(t *testing.T) {
	tests := []struct {
		name      string
		book      string
		confirm   bool
		wantPhase ple.Phase
		wantErr   error
	}{
		{name: "clean book", book: DemoCleanBook, wantPhase: ple.PhaseSuccess},
		{name: "errors without confirm", book: DemoWarningBook, wantPhase: ple.PhaseError, wantErr: apierr.ErrValidation},
		{name: "errors confirmed", book: DemoWarningBook, confirm: true, wantPhase: ple.PhaseSuccess},
		{name: "critical errors refused by backend", book: DemoCriticalBook, confirm: true, wantPhase: ple.PhaseError, wantErr: apierr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b := newStack(t, WithDemoBooks())
			wf := ple.NewWorkflow(ple.NewClient(b), ple.WithScheduler(never{}))
			st, err := wf.Run(context.Background(), tt.book, func(context.Context, ple.ValidationResult) bool { return tt.confirm })
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Run: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if st.Phase != tt.wantPhase {
				t.Fatalf("phase = %s, want %s (%s)", st.Phase, tt.wantPhase, st.Message)
			}
			if tt.wantPhase == ple.PhaseSuccess {
				if st.File == nil || len(st.File.Archive.Books) != 1 {
					t.Fatalf("unexpected file %+v", st.File)
				}
				if st.File.Name != fmt.Sprintf("LE%s20241200%s00011111.zip", DemoRUC, st.Context.BookCode) {
					t.Fatalf("unexpected file name %q", st.File.Name)
				}
			}
		})
	}
}

func TestPLEDownloadBeforeGenerateConflicts(t *testing.T) {
	_, b := newStack(t, WithDemoBooks())
	_, err := ple.NewClient(b).Download(context.Background(), DemoCleanBook, 2024, 12)
	if !errors.Is(err, apierr.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

type never struct{}

func (never) Schedule(time.Duration) poller.Task { return task(make(chan time.Time)) }
