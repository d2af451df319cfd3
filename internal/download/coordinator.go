package download

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/storage/object"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

// Fetcher retrieves the output of a DONE ticket.
type Fetcher interface {
	FetchOutput(ctx context.Context, ticketID string) (tickets.File, error)
}

// KeyRecorder is told where a ticket's output was saved.
type KeyRecorder interface {
	SetStorageKey(ctx context.Context, ticketID, storageKey string) error
}

// Options tune one DownloadWhenReady call.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	OnProgress  func(tickets.Ticket)
}

// Coordinator turns a ticket into its output file: one poll-to-terminal
// sequence and at most one fetch per call.
type Coordinator struct {
	poller   *poller.Poller
	fetcher  Fetcher
	store    object.ObjectStore
	recorder KeyRecorder
}

// New builds a coordinator. store and recorder may be nil when Save is unused.
func New(p *poller.Poller, f Fetcher, store object.ObjectStore, recorder KeyRecorder) *Coordinator {
	return &Coordinator{poller: p, fetcher: f, store: store, recorder: recorder}
}

// CanSave reports whether an object store is configured.
func (c *Coordinator) CanSave() bool { return c.store != nil }

// Result is a downloaded file and the terminal ticket it came from.
type Result struct {
	Ticket tickets.Ticket
	File   tickets.File
}

// DownloadWhenReady waits for ticketID to finish and fetches its output.
// Any terminal state other than DONE fails without a fetch. To download an
// already DONE ticket again, call FetchOutput directly.
func (c *Coordinator) DownloadWhenReady(ctx context.Context, ticketID string, opts Options) (Result, error) {
	t, err := c.poller.PollUntilTerminal(ctx, ticketID, poller.Options{
		Interval:    opts.Interval,
		MaxAttempts: opts.MaxAttempts,
		OnProgress:  opts.OnProgress,
	})
	if err != nil {
		return Result{Ticket: t}, err
	}
	if t.Status != tickets.StatusDone {
		return Result{Ticket: t}, apierr.New(apierr.KindNotReady, "ticket %s ended as %s", ticketID, t.Status)
	}

	f, err := c.fetcher.FetchOutput(ctx, ticketID)
	if err != nil {
		return Result{Ticket: t}, fmt.Errorf("fetch output: %w", err)
	}
	if strings.TrimSpace(f.Name) == "" && t.Output != nil {
		f.Name = t.Output.Name
	}
	if strings.TrimSpace(f.Name) == "" {
		f.Name = ticketID
	}
	telemetry.Info("ticket.downloaded", map[string]any{
		"ticket_id": ticketID,
		"file_name": f.Name,
		"bytes":     len(f.Data),
	})
	return Result{Ticket: t, File: f}, nil
}

// Save writes a downloaded file to the object store under its own name and
// reports the storage key to the recorder.
func (c *Coordinator) Save(ctx context.Context, ownerID, ticketID string, f tickets.File) (object.Object, error) {
	if c.store == nil {
		return object.Object{}, apierr.Validation("no object store configured")
	}
	obj, err := c.store.Save(ctx, ownerID, f.Name, bytes.NewReader(f.Data))
	if err != nil {
		telemetry.Error("download.save_failed", map[string]any{"ticket_id": ticketID, "error": err.Error()})
		return object.Object{}, fmt.Errorf("save output: %w", err)
	}
	if c.recorder != nil && ticketID != "" {
		if err := c.recorder.SetStorageKey(ctx, ticketID, obj.Key); err != nil {
			telemetry.Error("download.record_failed", map[string]any{"ticket_id": ticketID, "error": err.Error()})
		}
	}
	telemetry.Info("download.saved", map[string]any{
		"ticket_id":   ticketID,
		"storage_key": obj.Key,
		"size_bytes":  obj.SizeBytes,
		"sha256":      obj.SHA256,
	})
	return obj, nil
}
