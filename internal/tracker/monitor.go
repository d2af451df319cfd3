package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

// MonitorOptions configure a single-ticket monitor.
type MonitorOptions struct {
	// Poller supplies scheduler and clock; nil builds a default one over the getter.
	Poller      *poller.Poller
	Interval    time.Duration
	MaxAttempts int
	// OnUpdate receives every accepted snapshot, including the initial fetch.
	OnUpdate func(tickets.Ticket)
}

// Monitor exposes a live view of one ticket. It fetches once on Init and keeps
// polling only while the ticket is non-terminal.
type Monitor struct {
	api    poller.Getter
	id     string
	poller *poller.Poller
	opts   MonitorOptions

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	current *tickets.Ticket
	err     error
	started bool
}

// NewMonitor builds an idle monitor. Nothing happens until Init.
func NewMonitor(api poller.Getter, ticketID string, opts MonitorOptions) *Monitor {
	p := opts.Poller
	if p == nil {
		p = poller.New(api)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		api:    api,
		id:     ticketID,
		poller: p,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the monitored ticket id.
func (m *Monitor) ID() string { return m.id }

// Init fetches the ticket once and, if it is still active, starts the polling loop.
// Calling Init again is a no-op.
func (m *Monitor) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	t, err := m.api.Get(ctx, m.id)
	if err == nil {
		err = tickets.CheckSnapshot(t)
	}
	if err != nil {
		m.setErr(err)
		m.finish()
		return err
	}
	if effective := t.EffectiveStatus(m.poller.Now()); effective != t.Status {
		t.Status = effective
	}
	snapshot := m.observe(t)
	if snapshot.Status.Terminal() {
		m.finish()
		return nil
	}

	go func() {
		defer m.finish()
		_, err := m.poller.Resume(m.ctx, snapshot, poller.Options{
			Interval:    m.opts.Interval,
			MaxAttempts: m.opts.MaxAttempts,
			OnProgress:  func(t tickets.Ticket) { m.observe(t) },
		})
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		switch apierr.KindOf(err) {
		case apierr.KindTicketFailed, apierr.KindExpired, apierr.KindCancelled:
			// terminal states are part of the snapshot, not monitor failures
			return
		}
		m.setErr(err)
		telemetry.Warn("ticket.monitor_stopped", map[string]any{
			"ticket_id": m.id,
			"error":     err.Error(),
		})
	}()
	return nil
}

// Current returns a copy of the latest accepted snapshot, or nil before the first fetch.
func (m *Monitor) Current() *tickets.Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	t := *m.current
	return &t
}

// Err reports why the monitor stopped early: a transport failure or a poll timeout.
func (m *Monitor) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Done is closed when the monitor has stopped polling.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// stalled reports a monitor whose loop has ended without a terminal snapshot.
func (m *Monitor) stalled() bool {
	select {
	case <-m.done:
	default:
		return false
	}
	cur := m.Current()
	return cur == nil || !cur.Status.Terminal()
}

// Dispose stops any scheduled poll and waits for the loop to exit.
// A poll already in flight is allowed to finish.
func (m *Monitor) Dispose() {
	m.cancel()
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		m.finish()
	}
	<-m.done
}

// feed merges a snapshot obtained outside the loop, such as a cancel response.
// A terminal snapshot stops further polling.
func (m *Monitor) feed(t tickets.Ticket) tickets.Ticket {
	accepted := m.observe(t)
	if accepted.Status.Terminal() {
		m.cancel()
	}
	return accepted
}

func (m *Monitor) observe(next tickets.Ticket) tickets.Ticket {
	m.mu.Lock()
	var prev tickets.Ticket
	if m.current != nil {
		prev = *m.current
	}
	accepted, _ := tickets.Observe(prev, next)
	changed := m.current == nil || accepted.Status != prev.Status ||
		accepted.ProgressPercentage != prev.ProgressPercentage
	m.current = &accepted
	m.mu.Unlock()

	if changed && m.opts.OnUpdate != nil {
		m.opts.OnUpdate(accepted)
	}
	return accepted
}

func (m *Monitor) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Monitor) finish() {
	m.closeOnce.Do(func() { close(m.done) })
}
