package bridge

import (
	"strings"
	"sync"

	"sunat-client/internal/ple"
)

// Workflows keeps one PLE workflow per book. A workflow is dropped once its
// success close delay elapses, the way the UI closes the dialog.
type Workflows struct {
	api  ple.API
	opts []ple.Option

	mu     sync.Mutex
	byBook map[string]*ple.Workflow
}

// NewWorkflows builds a registry; opts apply to every workflow it creates.
func NewWorkflows(api ple.API, opts ...ple.Option) *Workflows {
	return &Workflows{api: api, opts: opts, byBook: map[string]*ple.Workflow{}}
}

// For returns the workflow for bookID, creating it if needed.
func (w *Workflows) For(bookID string) *ple.Workflow {
	bookID = strings.TrimSpace(bookID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if wf, ok := w.byBook[bookID]; ok {
		return wf
	}
	opts := append([]ple.Option{}, w.opts...)
	opts = append(opts, ple.WithOnSuccess(func(ple.State) { w.drop(bookID) }))
	wf := ple.NewWorkflow(w.api, opts...)
	w.byBook[bookID] = wf
	return wf
}

// Peek returns the workflow for bookID without creating one.
func (w *Workflows) Peek(bookID string) (*ple.Workflow, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wf, ok := w.byBook[strings.TrimSpace(bookID)]
	return wf, ok
}

func (w *Workflows) drop(bookID string) {
	w.mu.Lock()
	delete(w.byBook, bookID)
	w.mu.Unlock()
}
