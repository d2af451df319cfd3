package tracker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

// Recorder persists tickets the tracker creates or observes.
type Recorder interface {
	Record(ctx context.Context, t tickets.Ticket) error
}

// ListState is one full replacement of the ticket list.
type ListState struct {
	OwnerID   string
	Status    tickets.Status
	Tickets   []tickets.Summary
	Err       error
	UpdatedAt time.Time
}

// StatsState is one full replacement of the statistics view.
type StatsState struct {
	OwnerID   string
	Stats     *tickets.Statistics
	Err       error
	UpdatedAt time.Time
}

// View is what subscribers receive after every replacement.
type View struct {
	List  ListState
	Stats StatsState
}

// Tracker owns the list/stats view and the single-ticket monitors a UI observes.
// List and stats are only ever replaced wholesale with server data.
type Tracker struct {
	api      tickets.API
	poller   *poller.Poller
	recorder Recorder
	now      func() time.Time
	limit    int

	list  atomic.Pointer[ListState]
	stats atomic.Pointer[StatsState]
	// listMu and statsMu keep one writer per view.
	listMu  sync.Mutex
	statsMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(View)
	nextSub int

	monMu    sync.Mutex
	monitors map[string]*Monitor
	disposed bool
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithPoller shares a poller (and its scheduler and clock) with every monitor.
func WithPoller(p *poller.Poller) Option {
	return func(t *Tracker) {
		if p != nil {
			t.poller = p
		}
	}
}

// WithRecorder records created tickets and monitor updates.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithOwner presets the owner filter used before the first explicit load.
func WithOwner(ownerID string) Option {
	return func(t *Tracker) {
		t.list.Store(&ListState{OwnerID: strings.TrimSpace(ownerID)})
		t.stats.Store(&StatsState{OwnerID: strings.TrimSpace(ownerID)})
	}
}

// WithListLimit sets the page size requested by LoadTickets.
func WithListLimit(n int) Option {
	return func(t *Tracker) { t.limit = n }
}

// New builds a tracker over api.
func New(api tickets.API, opts ...Option) *Tracker {
	t := &Tracker{
		api:      api,
		now:      time.Now,
		subs:     map[int]func(View){},
		monitors: map[string]*Monitor{},
	}
	t.list.Store(&ListState{})
	t.stats.Store(&StatsState{})
	for _, opt := range opts {
		opt(t)
	}
	if t.poller == nil {
		t.poller = poller.New(api)
	}
	t.now = t.poller.Now
	return t
}

// Tickets returns the current list snapshot.
func (t *Tracker) Tickets() ListState { return *t.list.Load() }

// Stats returns the current statistics snapshot.
func (t *Tracker) Stats() StatsState { return *t.stats.Load() }

// View returns both snapshots.
func (t *Tracker) View() View { return View{List: t.Tickets(), Stats: t.Stats()} }

// LastError returns the most recent list or stats failure, list first.
func (t *Tracker) LastError() error {
	if err := t.list.Load().Err; err != nil {
		return err
	}
	return t.stats.Load().Err
}

// Subscribe registers fn for every view replacement and returns an unsubscribe func.
func (t *Tracker) Subscribe(fn func(View)) func() {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.subMu.Unlock()
	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) notify() {
	t.subMu.Lock()
	fns := make([]func(View), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	v := t.View()
	for _, fn := range fns {
		fn(v)
	}
}

// LoadTickets re-fetches the ticket list for owner. On failure the previous
// tickets stay visible and Err is set.
func (t *Tracker) LoadTickets(ctx context.Context, ownerID string, status tickets.Status) error {
	t.listMu.Lock()
	owner := strings.TrimSpace(ownerID)
	list, err := t.api.List(ctx, tickets.ListFilter{OwnerID: owner, Status: status, Limit: t.limit})
	next := ListState{OwnerID: owner, Status: status, UpdatedAt: t.now()}
	if err != nil {
		prev := t.list.Load()
		if prev.OwnerID == owner && prev.Status == status {
			next.Tickets = prev.Tickets
		}
		next.Err = err
		telemetry.Error("tracker.list_failed", map[string]any{"ruc": owner, "error": err.Error()})
	} else {
		next.Tickets = list
	}
	t.list.Store(&next)
	t.listMu.Unlock()

	t.notify()
	return err
}

// LoadStats re-fetches server-computed statistics for owner.
func (t *Tracker) LoadStats(ctx context.Context, ownerID string) error {
	t.statsMu.Lock()
	owner := strings.TrimSpace(ownerID)
	stats, err := t.api.Stats(ctx, owner)
	next := StatsState{OwnerID: owner, UpdatedAt: t.now()}
	if err != nil {
		if prev := t.stats.Load(); prev.OwnerID == owner {
			next.Stats = prev.Stats
		}
		next.Err = err
		telemetry.Error("tracker.stats_failed", map[string]any{"ruc": owner, "error": err.Error()})
	} else {
		next.Stats = &stats
	}
	t.stats.Store(&next)
	t.statsMu.Unlock()

	t.notify()
	return err
}

// Refresh reloads list and stats concurrently with the current filters.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.refreshFor(ctx, "")
}

// refreshFor uses fallbackOwner when no owner filter has been set yet.
func (t *Tracker) refreshFor(ctx context.Context, fallbackOwner string) error {
	list := t.list.Load()
	owner, status := list.OwnerID, list.Status
	if owner == "" {
		owner = fallbackOwner
	}
	statsOwner := t.stats.Load().OwnerID
	if statsOwner == "" {
		statsOwner = owner
	}
	if owner == "" {
		return apierr.Validation("no ruc selected; load tickets first")
	}

	var g errgroup.Group
	g.Go(func() error { return t.LoadTickets(ctx, owner, status) })
	g.Go(func() error { return t.LoadStats(ctx, statsOwner) })
	return g.Wait()
}

// CreateDownloadTicket requests a declaration download for period, then refreshes.
func (t *Tracker) CreateDownloadTicket(ctx context.Context, ownerID, period string) (tickets.Ticket, error) {
	return t.create(ctx, tickets.CreateRequest{
		OwnerID:    ownerID,
		Operation:  tickets.OpDownloadDeclaration,
		Parameters: map[string]string{tickets.ParamPeriod: period},
	})
}

// CreateAcceptTicket requests acceptance of the proposed declaration for period, then refreshes.
func (t *Tracker) CreateAcceptTicket(ctx context.Context, ownerID, period string) (tickets.Ticket, error) {
	return t.create(ctx, tickets.CreateRequest{
		OwnerID:    ownerID,
		Operation:  tickets.OpAcceptDeclaration,
		Parameters: map[string]string{tickets.ParamPeriod: period},
	})
}

// Create submits any operation and refreshes afterwards.
func (t *Tracker) Create(ctx context.Context, req tickets.CreateRequest) (tickets.Ticket, error) {
	return t.create(ctx, req)
}

func (t *Tracker) create(ctx context.Context, req tickets.CreateRequest) (tickets.Ticket, error) {
	created, err := t.api.Create(ctx, req)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindValidation {
			return tickets.Ticket{}, err
		}
	} else {
		t.record(ctx, created)
		telemetry.Info("ticket.created", map[string]any{
			"ticket_id":      created.ID,
			"ruc":            created.OwnerID,
			"operation_type": string(created.OperationType),
		})
	}
	if rerr := t.refreshFor(ctx, req.OwnerID); rerr != nil && err == nil {
		telemetry.Warn("tracker.refresh_failed", map[string]any{"error": rerr.Error()})
	}
	return created, err
}

// CancelTicket asks the backend to cancel id and refreshes list and stats.
// A ticket the tracker already knows to be terminal is left alone.
func (t *Tracker) CancelTicket(ctx context.Context, ticketID string) (tickets.Ticket, error) {
	if known, ok := t.knownTerminal(ticketID); ok {
		return known, nil
	}

	updated, err := t.api.Cancel(ctx, ticketID)
	if err == nil {
		t.monMu.Lock()
		m := t.monitors[ticketID]
		t.monMu.Unlock()
		if m != nil {
			updated = m.feed(updated)
		}
		t.record(ctx, updated)
		telemetry.Info("ticket.cancel_requested", map[string]any{
			"ticket_id": ticketID,
			"status":    string(updated.Status),
		})
	}
	if rerr := t.refreshFor(ctx, updated.OwnerID); rerr != nil && err == nil {
		telemetry.Warn("tracker.refresh_failed", map[string]any{"error": rerr.Error()})
	}
	return updated, err
}

func (t *Tracker) knownTerminal(ticketID string) (tickets.Ticket, bool) {
	t.monMu.Lock()
	m := t.monitors[ticketID]
	t.monMu.Unlock()
	if m != nil {
		if cur := m.Current(); cur != nil && cur.Status.Terminal() {
			return *cur, true
		}
	}
	for _, s := range t.list.Load().Tickets {
		if s.ID == ticketID && s.Status.Terminal() {
			return fromSummary(s), true
		}
	}
	return tickets.Ticket{}, false
}

// Monitor returns the monitor for id, creating and initializing it on first use.
// A monitor that stopped before reaching a terminal status (poll budget used
// up, transport failure) is replaced, so asking again re-fetches the ticket.
func (t *Tracker) Monitor(ctx context.Context, ticketID string) (*Monitor, error) {
	id := strings.TrimSpace(ticketID)
	if id == "" {
		return nil, apierr.Validation("ticket id is required")
	}
	t.monMu.Lock()
	if t.disposed {
		t.monMu.Unlock()
		return nil, apierr.New(apierr.KindCancelled, "tracker disposed")
	}
	stale, ok := t.monitors[id]
	if ok && !stale.stalled() {
		t.monMu.Unlock()
		return stale, nil
	}
	m := NewMonitor(t.api, id, MonitorOptions{
		Poller:   t.poller,
		OnUpdate: func(tk tickets.Ticket) { t.record(context.Background(), tk) },
	})
	t.monitors[id] = m
	t.monMu.Unlock()
	if ok {
		stale.Dispose()
	}

	if err := m.Init(ctx); err != nil {
		t.monMu.Lock()
		if t.monitors[id] == m {
			delete(t.monitors, id)
		}
		t.monMu.Unlock()
		return nil, err
	}
	return m, nil
}

// Release disposes the monitor for id, if any.
func (t *Tracker) Release(ticketID string) {
	t.monMu.Lock()
	m := t.monitors[ticketID]
	delete(t.monitors, ticketID)
	t.monMu.Unlock()
	if m != nil {
		m.Dispose()
	}
}

// Dispose stops every monitor. The tracker rejects new monitors afterwards.
func (t *Tracker) Dispose() {
	t.monMu.Lock()
	t.disposed = true
	ms := make([]*Monitor, 0, len(t.monitors))
	for _, m := range t.monitors {
		ms = append(ms, m)
	}
	t.monitors = map[string]*Monitor{}
	t.monMu.Unlock()
	for _, m := range ms {
		m.Dispose()
	}
}

func (t *Tracker) record(ctx context.Context, tk tickets.Ticket) {
	if t.recorder == nil || tk.ID == "" {
		return
	}
	if err := t.recorder.Record(ctx, tk); err != nil {
		telemetry.Error("tracker.record_failed", map[string]any{"ticket_id": tk.ID, "error": err.Error()})
	}
}

func fromSummary(s tickets.Summary) tickets.Ticket {
	t := tickets.Ticket{
		ID:                 s.ID,
		OperationType:      s.OperationType,
		Status:             s.Status,
		CreatedAt:          s.CreatedAt,
		ProgressPercentage: s.ProgressPercentage,
		StatusMessage:      s.StatusMessage,
	}
	if s.OutputFileName != "" {
		t.Output = &tickets.OutputFile{Name: s.OutputFileName}
	}
	return t
}
