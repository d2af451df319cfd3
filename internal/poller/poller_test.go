package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/tickets"
)

type scriptedAPI struct {
	mu     sync.Mutex
	script []tickets.Ticket
	calls  int
	err    error
	// block, when set, is waited on inside Get.
	block chan struct{}
}

func (s *scriptedAPI) Get(ctx context.Context, ticketID string) (tickets.Ticket, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return tickets.Ticket{}, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	t := s.script[idx]
	t.ID = ticketID
	return t, nil
}

func (s *scriptedAPI) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type instantScheduler struct {
	mu        sync.Mutex
	scheduled []time.Duration
}

func (s *instantScheduler) Schedule(d time.Duration) Task {
	s.mu.Lock()
	s.scheduled = append(s.scheduled, d)
	s.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return instantTask{ch: ch}
}

type instantTask struct{ ch chan time.Time }

func (t instantTask) Done() <-chan time.Time { return t.ch }
func (t instantTask) Cancel()                {}

type neverScheduler struct{}

func (neverScheduler) Schedule(time.Duration) Task { return instantTask{ch: make(chan time.Time)} }

func processing(p int) tickets.Ticket {
	return tickets.Ticket{Status: tickets.StatusProcessing, ProgressPercentage: p}
}

func TestPollReachesDoneAndReportsProgress(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{
		{Status: tickets.StatusPending},
		processing(10),
		processing(45),
		processing(90),
		{Status: tickets.StatusDone, ProgressPercentage: 100, Output: &tickets.OutputFile{Name: "LE20123456789202412.zip"}},
	}}
	sched := &instantScheduler{}
	p := New(api, WithScheduler(sched))

	var seen []int
	got, err := p.PollUntilTerminal(context.Background(), "t-1", Options{
		Interval:    3 * time.Second,
		MaxAttempts: 10,
		OnProgress:  func(tk tickets.Ticket) { seen = append(seen, tk.ProgressPercentage) },
	})
	if err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if got.Status != tickets.StatusDone || got.Output == nil {
		t.Fatalf("unexpected ticket %+v", got)
	}
	if api.Calls() != 5 {
		t.Fatalf("calls = %d, want 5", api.Calls())
	}
	want := []int{0, 10, 45, 90, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress = %v, want %v", seen, want)
		}
	}
	if len(sched.scheduled) != 4 || sched.scheduled[0] != 3*time.Second {
		t.Fatalf("unexpected schedule %v", sched.scheduled)
	}
}

func TestPollTerminalOnFirstQueryMakesOneCall(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{{Status: tickets.StatusDone, Output: &tickets.OutputFile{Name: "a.zip"}}}}
	sched := &instantScheduler{}
	p := New(api, WithScheduler(sched))

	if _, err := p.PollUntilTerminal(context.Background(), "t-1", Options{}); err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if api.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", api.Calls())
	}
	if len(sched.scheduled) != 0 {
		t.Fatalf("expected no scheduled waits, got %v", sched.scheduled)
	}
}

func TestPollTimesOutAfterMaxAttempts(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{processing(5)}}
	p := New(api, WithScheduler(&instantScheduler{}))

	_, err := p.PollUntilTerminal(context.Background(), "t-1", Options{MaxAttempts: 7})
	if !errors.Is(err, apierr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if api.Calls() != 7 {
		t.Fatalf("calls = %d, want 7", api.Calls())
	}
}

func TestPollFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		ticket tickets.Ticket
		want   error
	}{
		{
			name:   "error",
			ticket: tickets.Ticket{Status: tickets.StatusError, Failure: &tickets.Failure{Code: "SIRE-001", Message: "Periodo no habilitado", CanRetry: true}},
			want:   apierr.ErrTicketFailed,
		},
		{name: "expired", ticket: tickets.Ticket{Status: tickets.StatusExpired}, want: apierr.ErrExpired},
		{name: "cancelled", ticket: tickets.Ticket{Status: tickets.StatusCancelled}, want: apierr.ErrCancelled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			api := &scriptedAPI{script: []tickets.Ticket{processing(20), tt.ticket}}
			p := New(api, WithScheduler(&instantScheduler{}))
			got, err := p.PollUntilTerminal(context.Background(), "t-1", Options{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got.Status != tt.ticket.Status {
				t.Fatalf("status = %s, want %s", got.Status, tt.ticket.Status)
			}
		})
	}
}

func TestPollErrorCarriesFailureDescriptor(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{{
		Status:  tickets.StatusError,
		Failure: &tickets.Failure{Code: "SIRE-001", Message: "Periodo no habilitado", Details: []string{"periodo 202413"}, CanRetry: true},
	}}}
	p := New(api, WithScheduler(&instantScheduler{}))
	_, err := p.PollUntilTerminal(context.Background(), "t-1", Options{})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != "SIRE-001" || apiErr.Message != "Periodo no habilitado" || !apiErr.CanRetry || len(apiErr.Details) != 1 {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestPollStopsAtLocalExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	api := &scriptedAPI{script: []tickets.Ticket{
		{Status: tickets.StatusProcessing, ExpiresAt: now.Add(-time.Minute)},
	}}
	p := New(api, WithScheduler(&instantScheduler{}), WithClock(func() time.Time { return now }))
	got, err := p.PollUntilTerminal(context.Background(), "t-1", Options{MaxAttempts: 50})
	if !errors.Is(err, apierr.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if got.Status != tickets.StatusExpired || api.Calls() != 1 {
		t.Fatalf("unexpected result status=%s calls=%d", got.Status, api.Calls())
	}
}

func TestPollPropagatesTransportError(t *testing.T) {
	api := &scriptedAPI{err: &apierr.Error{Kind: apierr.KindTransport, Message: "connection refused"}}
	p := New(api, WithScheduler(&instantScheduler{}))
	_, err := p.PollUntilTerminal(context.Background(), "t-1", Options{})
	if !errors.Is(err, apierr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if api.Calls() != 1 {
		t.Fatalf("expected no retry, calls = %d", api.Calls())
	}
}

func TestPollRejectsUnknownStatus(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{{Status: "COMPLETED", ProgressPercentage: 100}}}
	p := New(api, WithScheduler(&instantScheduler{}))
	_, err := p.PollUntilTerminal(context.Background(), "t-1", Options{MaxAttempts: 50})
	if !errors.Is(err, apierr.ErrTransport) || errors.Is(err, apierr.ErrTimeout) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if api.Calls() != 1 {
		t.Fatalf("expected to stop at the first snapshot, calls = %d", api.Calls())
	}
}

func TestHandleCancelSuppressesNextPoll(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{processing(10)}}
	p := New(api, WithScheduler(neverScheduler{}))

	h := p.Start(context.Background(), "t-1", Options{})
	deadline := time.Now().Add(2 * time.Second)
	for api.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Cancel()
	_, err := h.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if api.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", api.Calls())
	}
}

func TestInFlightPollCompletesAfterCancel(t *testing.T) {
	block := make(chan struct{})
	api := &scriptedAPI{script: []tickets.Ticket{processing(30)}, block: block}
	p := New(api, WithScheduler(&instantScheduler{}))

	ctx, cancel := context.WithCancel(context.Background())
	var reported []tickets.Ticket
	var mu sync.Mutex
	h := p.Start(ctx, "t-1", Options{OnProgress: func(tk tickets.Ticket) {
		mu.Lock()
		reported = append(reported, tk)
		mu.Unlock()
	}})
	cancel()
	close(block)

	got, err := h.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got.ProgressPercentage != 30 {
		t.Fatalf("expected in-flight result kept, got %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || api.Calls() != 1 {
		t.Fatalf("reported=%d calls=%d, want 1/1", len(reported), api.Calls())
	}
}

func TestResumeWaitsBeforeFirstPoll(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{{Status: tickets.StatusDone, Output: &tickets.OutputFile{Name: "a.zip"}}}}
	sched := &instantScheduler{}
	p := New(api, WithScheduler(sched))

	from := tickets.Ticket{ID: "t-1", Status: tickets.StatusProcessing, ProgressPercentage: 60}
	got, err := p.Resume(context.Background(), from, Options{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Status != tickets.StatusDone || api.Calls() != 1 || len(sched.scheduled) != 1 {
		t.Fatalf("status=%s calls=%d waits=%d", got.Status, api.Calls(), len(sched.scheduled))
	}
}

func TestResumeTerminalSnapshotMakesNoCalls(t *testing.T) {
	api := &scriptedAPI{script: []tickets.Ticket{processing(1)}}
	p := New(api, WithScheduler(&instantScheduler{}))

	_, err := p.Resume(context.Background(), tickets.Ticket{ID: "t-1", Status: tickets.StatusCancelled}, Options{})
	if !errors.Is(err, apierr.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if api.Calls() != 0 {
		t.Fatalf("calls = %d, want 0", api.Calls())
	}
}
