package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/fakebackend"
	"sunat-client/internal/shared/config"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Cleanup(telemetry.SetOutput(io.Discard))

	srv := httptest.NewServer(fakebackend.New(fakebackend.WithDemoBooks()).Handler())
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.BackendURL = srv.URL + "/api/v1"
	cfg.LocalStoreDir = t.TempDir()
	cfg.PollInterval = time.Millisecond
	cfg.DefaultRUC = fakebackend.DemoRUC
	return cfg
}

func TestBuildWiresRouter(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.DB != nil || !app.Downloads.CanSave() {
		t.Fatalf("expected memory watchlist and local store, got db=%v", app.DB)
	}

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBuildWithoutStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStoreType = "none"
	app, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()
	if app.Downloads.CanSave() {
		t.Fatal("expected downloads to stream only")
	}
}

func TestBuildRejectsMissingBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.BackendURL = ""
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected error without backend url")
	}
}

func TestResumeActiveFollowsTicketsToTerminal(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	created, err := app.Tickets.Create(ctx, tickets.CreateRequest{
		OwnerID:    fakebackend.DemoRUC,
		Operation:  tickets.OpDownloadDeclaration,
		Parameters: map[string]string{tickets.ParamPeriod: "202412"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := app.Watchlist.Record(ctx, created); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := app.ResumeActive(ctx); err != nil {
		t.Fatalf("ResumeActive: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		entry, err := app.Watchlist.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if entry.Status == tickets.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ticket still %s after resume", entry.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	active, err := app.Watchlist.Active(ctx, "")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active entries, got %+v", active)
	}
}

func TestResumeActiveSkipsUnknownTickets(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	ghost := tickets.Ticket{ID: "missing", OwnerID: fakebackend.DemoRUC, OperationType: tickets.OpDownloadDeclaration, Status: tickets.StatusPending}
	if err := app.Watchlist.Record(ctx, ghost); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := app.ResumeActive(ctx); err != nil {
		t.Fatalf("expected unknown ticket to be skipped, got %v", err)
	}
}
