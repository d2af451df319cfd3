package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/metrics"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

const (
	// DefaultInterval is the fixed wait between two polls of the same ticket.
	DefaultInterval = 2500 * time.Millisecond
	// DefaultMaxAttempts bounds a poll sequence to roughly five minutes.
	DefaultMaxAttempts = 120
)

// Getter is the slice of the ticket API the poller needs.
type Getter interface {
	Get(ctx context.Context, ticketID string) (tickets.Ticket, error)
}

// Options tune one poll sequence. Zero values fall back to the poller defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	// OnProgress receives every accepted snapshot, terminal ones included.
	OnProgress func(tickets.Ticket)
}

// Poller drives a single ticket to a terminal state with sequential polls.
type Poller struct {
	api       Getter
	defaults  Options
	scheduler Scheduler
	now       func() time.Time
}

// Option customizes a Poller.
type Option func(*Poller)

// WithScheduler replaces the timer source used between polls.
func WithScheduler(s Scheduler) Option {
	return func(p *Poller) {
		if s != nil {
			p.scheduler = s
		}
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithDefaults sets the interval and attempt budget used when a call leaves them zero.
func WithDefaults(interval time.Duration, maxAttempts int) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.defaults.Interval = interval
		}
		if maxAttempts > 0 {
			p.defaults.MaxAttempts = maxAttempts
		}
	}
}

// New constructs a Poller.
func New(api Getter, opts ...Option) *Poller {
	p := &Poller{
		api:       api,
		defaults:  Options{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts},
		scheduler: TimerScheduler{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the default wait between polls.
func (p *Poller) Interval() time.Duration {
	return p.defaults.Interval
}

// Scheduler returns the timer source, so monitors can share it.
func (p *Poller) Scheduler() Scheduler {
	return p.scheduler
}

// Now returns the poller's clock reading.
func (p *Poller) Now() time.Time {
	return p.now()
}

// PollUntilTerminal polls ticketID until it reaches a terminal state.
//
// DONE returns the ticket and a nil error. ERROR, EXPIRED and CANCELLED return
// the ticket together with the matching apierr kind. Exhausting MaxAttempts
// returns apierr.ErrTimeout; a local expiresAt deadline returns
// apierr.ErrExpired, whichever happens first. Transport errors propagate at once.
//
// A poll already in flight when ctx is cancelled is allowed to finish; only the
// next scheduled poll is suppressed.
func (p *Poller) PollUntilTerminal(ctx context.Context, ticketID string, opts Options) (tickets.Ticket, error) {
	return p.run(ctx, ticketID, tickets.Ticket{}, opts)
}

// Resume continues polling from a snapshot the caller already fetched. The first
// poll happens one interval later. A terminal snapshot returns at once with no calls.
func (p *Poller) Resume(ctx context.Context, from tickets.Ticket, opts Options) (tickets.Ticket, error) {
	if from.Status.Terminal() {
		return from, tickets.ResultError(from)
	}
	return p.run(ctx, from.ID, from, opts)
}

func (p *Poller) run(ctx context.Context, ticketID string, last tickets.Ticket, opts Options) (tickets.Ticket, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = p.defaults.Interval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.defaults.MaxAttempts
	}

	start := p.now()
	wait := last.ID != ""
	for attempt := 1; ; attempt++ {
		if wait {
			if err := ctx.Err(); err != nil {
				return last, err
			}
			task := p.scheduler.Schedule(interval)
			select {
			case <-task.Done():
			case <-ctx.Done():
				task.Cancel()
				return last, ctx.Err()
			}
		}
		wait = true

		next, err := p.api.Get(context.WithoutCancel(ctx), ticketID)
		metrics.IncTicketPolls()
		if err == nil {
			err = tickets.CheckSnapshot(next)
		}
		if err != nil {
			return last, err
		}

		prevStatus := last.Status
		accepted, ok := tickets.Observe(last, next)
		if !ok {
			telemetry.Warn("ticket.transition_ignored", map[string]any{
				"ticket_id":         ticketID,
				"status_transition": tickets.Transition(last.Status, next.Status),
				"attempt":           attempt,
			})
		}
		last = accepted
		if effective := last.EffectiveStatus(p.now()); effective != last.Status {
			last.Status = effective
		}
		if last.Status != prevStatus {
			telemetry.Info("ticket.status", map[string]any{
				"ticket_id":         ticketID,
				"status":            string(last.Status),
				"status_transition": tickets.Transition(prevStatus, last.Status),
				"progress":          last.ProgressPercentage,
				"attempt":           attempt,
			})
		}
		if opts.OnProgress != nil {
			opts.OnProgress(last)
		}

		if last.Status.Terminal() {
			metrics.IncTicketTerminal(string(last.Status))
			metrics.ObservePollWaitMs(float64(p.now().Sub(start).Microseconds()) / 1000.0)
			return last, tickets.ResultError(last)
		}
		if attempt >= maxAttempts {
			metrics.IncPollTimeouts()
			telemetry.Warn("ticket.poll_timeout", map[string]any{
				"ticket_id": ticketID,
				"attempts":  attempt,
				"status":    string(last.Status),
			})
			return last, &apierr.Error{
				Kind:    apierr.KindTimeout,
				Message: fmt.Sprintf("ticket %s still %s after %d checks; check again later", ticketID, last.Status, attempt),
			}
		}
	}
}

// Handle is a poll sequence running in the background.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	ticket tickets.Ticket
	err    error
}

// Start runs PollUntilTerminal in its own goroutine.
func (p *Poller) Start(ctx context.Context, ticketID string, opts Options) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		t, err := p.PollUntilTerminal(ctx, ticketID, opts)
		h.mu.Lock()
		h.ticket, h.err = t, err
		h.mu.Unlock()
	}()
	return h
}

// Cancel suppresses any further polls. It does not touch the backend ticket.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the sequence has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the sequence ends and returns its result.
func (h *Handle) Wait() (tickets.Ticket, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticket, h.err
}
