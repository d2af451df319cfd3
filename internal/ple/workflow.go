package ple

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/metrics"
	"sunat-client/internal/shared/telemetry"
)

// Phase is the UI-observable step of the PLE flow.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseLoadingContext Phase = "loading-context"
	PhaseValidating     Phase = "validating"
	PhaseGenerating     Phase = "generating"
	PhaseDownloading    Phase = "downloading"
	PhaseSuccess        Phase = "success"
	PhaseError          Phase = "error"
)

// DefaultCloseDelay is how long a success stays on screen before OnSuccess fires.
const DefaultCloseDelay = 2 * time.Second

// ErrBusy is returned when a step is triggered while another one is running.
var ErrBusy = errors.New("ple: another step is in progress")

// State is a read-only snapshot of the workflow. Results from earlier steps
// are kept when a later step fails.
type State struct {
	Phase          Phase             `json:"phase"`
	FailedPhase    Phase             `json:"failedPhase,omitempty"`
	Message        string            `json:"message,omitempty"`
	BookID         string            `json:"bookId,omitempty"`
	Context        *Context          `json:"context,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
	Generation     *GenerateResult   `json:"generation,omitempty"`
	File           *File             `json:"file,omitempty"`
	CloseScheduled bool              `json:"closeScheduled"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ConfirmFunc decides whether generation goes ahead despite validation errors.
type ConfirmFunc func(ctx context.Context, v ValidationResult) bool

// Workflow sequences context, validation, generation and download for one book.
type Workflow struct {
	api        API
	closeDelay time.Duration
	maxEntry   int64
	onSuccess  func(State)
	scheduler  poller.Scheduler
	now        func() time.Time

	mu        sync.Mutex
	state     State
	busy      bool
	closeStop chan struct{}
	subs      map[int]func(State)
	nextSub   int
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithCloseDelay sets the pause between success and OnSuccess.
func WithCloseDelay(d time.Duration) Option {
	return func(w *Workflow) {
		if d >= 0 {
			w.closeDelay = d
		}
	}
}

// WithMaxEntryBytes caps the size of each file inside a downloaded archive.
func WithMaxEntryBytes(n int64) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxEntry = n
		}
	}
}

// WithOnSuccess registers the hook fired once the close delay elapses.
func WithOnSuccess(fn func(State)) Option {
	return func(w *Workflow) { w.onSuccess = fn }
}

// WithScheduler replaces the timer source for the close delay.
func WithScheduler(s poller.Scheduler) Option {
	return func(w *Workflow) {
		if s != nil {
			w.scheduler = s
		}
	}
}

// NewWorkflow builds an idle workflow.
func NewWorkflow(api API, opts ...Option) *Workflow {
	w := &Workflow{
		api:        api,
		closeDelay: DefaultCloseDelay,
		maxEntry:   DefaultMaxEntryBytes,
		scheduler:  poller.TimerScheduler{},
		now:        time.Now,
		subs:       map[int]func(State){},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state = State{Phase: PhaseIdle, UpdatedAt: w.now()}
	return w
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Busy reports whether a step is in flight.
func (w *Workflow) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Subscribe registers fn for every state change and returns an unsubscribe func.
func (w *Workflow) Subscribe(fn func(State)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// LoadContext fetches the book's accounting context. Switching books clears
// earlier results.
func (w *Workflow) LoadContext(ctx context.Context, bookID string) (Context, error) {
	if err := w.acquire(); err != nil {
		return Context{}, err
	}
	defer w.release()
	c, err := w.loadContext(ctx, bookID)
	if err == nil {
		w.settle()
	}
	return c, err
}

// Validate runs the backend checks. Any error finding moves the workflow to
// the error phase with the headline message; the full result is kept.
func (w *Workflow) Validate(ctx context.Context, flags ValidationFlags) (ValidationResult, error) {
	if err := w.acquire(); err != nil {
		return ValidationResult{}, err
	}
	defer w.release()
	v, err := w.validate(ctx, flags)
	if err == nil {
		w.settle()
	}
	if v == nil {
		return ValidationResult{}, err
	}
	return *v, err
}

// Generate builds the PLE files. When the last validation reported errors,
// opts.Confirmed must be set or nothing is sent.
func (w *Workflow) Generate(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	if err := w.acquire(); err != nil {
		return GenerateResult{}, err
	}
	defer w.release()
	g, err := w.generate(ctx, opts)
	if err == nil {
		w.settle()
	}
	return g, err
}

// Download fetches and inspects the generated archive. Success schedules the close hook.
func (w *Workflow) Download(ctx context.Context) (File, error) {
	if err := w.acquire(); err != nil {
		return File{}, err
	}
	defer w.release()
	return w.download(ctx)
}

// Run drives the whole flow for bookID. When validation reports errors, confirm
// decides whether generation is attempted anyway; a nil confirm stops there.
func (w *Workflow) Run(ctx context.Context, bookID string, confirm ConfirmFunc) (State, error) {
	if err := w.acquire(); err != nil {
		return w.Snapshot(), err
	}
	defer w.release()

	if _, err := w.loadContext(ctx, bookID); err != nil {
		return w.Snapshot(), err
	}
	v, err := w.validate(ctx, AllChecks)
	confirmed := false
	if err != nil {
		if v == nil || confirm == nil || !confirm(ctx, *v) {
			return w.Snapshot(), err
		}
		confirmed = true
		telemetry.Info("ple.generate_confirmed", map[string]any{
			"book_id":  bookID,
			"errors":   v.ErrorCount(),
			"warnings": v.WarningCount(),
		})
	}
	if _, err := w.generate(ctx, GenerateOptions{Confirmed: confirmed}); err != nil {
		return w.Snapshot(), err
	}
	if _, err := w.download(ctx); err != nil {
		return w.Snapshot(), err
	}
	return w.Snapshot(), nil
}

// Reset cancels a pending close and returns to idle with no results.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	w.cancelCloseLocked()
	w.state = State{Phase: PhaseIdle, UpdatedAt: w.now()}
	s, fns := w.state, w.subscribersLocked()
	w.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
	return nil
}

func (w *Workflow) loadContext(ctx context.Context, bookID string) (Context, error) {
	w.update(func(s *State) {
		if s.BookID != bookID {
			*s = State{BookID: bookID}
		}
		s.Phase, s.FailedPhase, s.Message = PhaseLoadingContext, "", ""
	})
	c, err := w.api.Context(ctx, bookID)
	if err != nil {
		return Context{}, w.fail(PhaseLoadingContext, err)
	}
	w.update(func(s *State) { s.Context = &c })
	return c, nil
}

// validate returns a nil result when the backend never answered.
func (w *Workflow) validate(ctx context.Context, flags ValidationFlags) (*ValidationResult, error) {
	st := w.Snapshot()
	if st.Context == nil {
		return nil, apierr.New(apierr.KindNotReady, "load the PLE context before validating")
	}
	w.enter(PhaseValidating)
	v, err := w.api.Validate(ctx, st.BookID, flags)
	if err != nil {
		return nil, w.fail(PhaseValidating, err)
	}
	w.update(func(s *State) { s.Validation = &v })
	if !v.OK() {
		return &v, w.fail(PhaseValidating, &apierr.Error{
			Kind:    apierr.KindValidation,
			Code:    "PLE_VALIDATION",
			Message: v.Headline(),
			Details: v.ErrorMessages(),
		})
	}
	return &v, nil
}

func (w *Workflow) generate(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	st := w.Snapshot()
	if st.Context == nil {
		return GenerateResult{}, apierr.New(apierr.KindNotReady, "load the PLE context before generating")
	}
	if st.Validation != nil && !st.Validation.OK() && !opts.Confirmed {
		return GenerateResult{}, apierr.New(apierr.KindValidation,
			"validation reported %d errors; confirm to generate anyway", st.Validation.ErrorCount())
	}

	w.enter(PhaseGenerating)
	g, err := w.api.Generate(ctx, GenerateRequest{
		BookID:     st.BookID,
		FiscalYear: st.Context.FiscalYear,
		Month:      st.Context.Month,
		Options:    opts,
	})
	if err != nil {
		return GenerateResult{}, w.fail(PhaseGenerating, err)
	}
	w.update(func(s *State) { s.Generation = &g })
	if !g.OK() {
		return g, w.fail(PhaseGenerating, &apierr.Error{
			Kind:    apierr.KindValidation,
			Code:    "PLE_GENERATION",
			Message: generationMessage(g),
			Details: append([]string(nil), g.Errors...),
		})
	}
	telemetry.Info("ple.generated", map[string]any{
		"book_id":      st.BookID,
		"file_name":    g.FileName,
		"record_count": g.RecordCount,
		"confirmed":    opts.Confirmed,
	})
	return g, nil
}

func (w *Workflow) download(ctx context.Context) (File, error) {
	st := w.Snapshot()
	if st.Generation == nil || !st.Generation.OK() || st.Context == nil {
		return File{}, apierr.New(apierr.KindNotReady, "generate the PLE files before downloading")
	}

	w.enter(PhaseDownloading)
	blob, err := w.api.Download(ctx, st.BookID, st.Context.FiscalYear, st.Context.Month)
	if err != nil {
		return File{}, w.fail(PhaseDownloading, err)
	}
	archive, err := InspectArchive(blob.Data, w.maxEntry)
	if err != nil {
		return File{}, w.fail(PhaseDownloading, err)
	}
	name := blob.Name
	if name == "" {
		name = st.Generation.FileName
	}
	f := File{Name: name, SizeBytes: len(blob.Data), Data: blob.Data, Archive: archive, FetchedAt: w.now()}

	stop := make(chan struct{})
	w.mu.Lock()
	w.closeStop = stop
	w.mu.Unlock()
	w.update(func(s *State) {
		s.File = &f
		s.Phase = PhaseSuccess
		s.Message = fmt.Sprintf("%s descargado (%d libros)", name, len(archive.Books))
		s.CloseScheduled = true
	})
	w.scheduleClose(stop)
	return f, nil
}

func (w *Workflow) scheduleClose(stop chan struct{}) {
	task := w.scheduler.Schedule(w.closeDelay)
	go func() {
		select {
		case <-task.Done():
		case <-stop:
			task.Cancel()
			return
		}
		w.mu.Lock()
		if w.closeStop != stop {
			w.mu.Unlock()
			return
		}
		w.closeStop = nil
		w.state.CloseScheduled = false
		s := w.state
		w.mu.Unlock()
		if w.onSuccess != nil {
			w.onSuccess(s)
		}
	}()
}

func (w *Workflow) cancelCloseLocked() {
	if w.closeStop != nil {
		close(w.closeStop)
		w.closeStop = nil
		w.state.CloseScheduled = false
	}
}

func (w *Workflow) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	w.busy = true
	w.cancelCloseLocked()
	return nil
}

func (w *Workflow) release() {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
}

func (w *Workflow) enter(p Phase) {
	w.update(func(s *State) { s.Phase, s.FailedPhase, s.Message = p, "", "" })
}

// settle returns to idle after a standalone step succeeds.
func (w *Workflow) settle() {
	w.update(func(s *State) { s.Phase = PhaseIdle })
}

func (w *Workflow) fail(p Phase, err error) error {
	msg := apierr.Message(err)
	metrics.IncPLEPhaseError(string(p))
	telemetry.Error("ple.phase_failed", map[string]any{
		"phase": string(p),
		"kind":  string(apierr.KindOf(err)),
		"error": msg,
	})
	w.update(func(s *State) {
		s.Phase, s.FailedPhase, s.Message = PhaseError, p, msg
	})
	return err
}

func (w *Workflow) update(fn func(*State)) {
	w.mu.Lock()
	fn(&w.state)
	w.state.UpdatedAt = w.now()
	s, fns := w.state, w.subscribersLocked()
	w.mu.Unlock()
	for _, f := range fns {
		f(s)
	}
}

func (w *Workflow) subscribersLocked() []func(State) {
	fns := make([]func(State), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	return fns
}

func generationMessage(g GenerateResult) string {
	if len(g.Errors) > 0 {
		return g.Errors[0]
	}
	if g.Message != "" {
		return g.Message
	}
	return "la generación del PLE no fue exitosa"
}
