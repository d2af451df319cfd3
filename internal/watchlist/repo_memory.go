package watchlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"sunat-client/internal/tickets"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Entry
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Entry), now: time.Now}
}

// Upsert stores the entry, keeping CreatedAt and StorageKey of an existing one.
func (r *MemoryRepo) Upsert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now().UTC()
	}
	if prev, ok := r.data[e.TicketID]; ok {
		e.CreatedAt = prev.CreatedAt
		if e.StorageKey == "" {
			e.StorageKey = prev.StorageKey
		}
		if e.OwnerID == "" {
			e.OwnerID = prev.OwnerID
		}
		if e.Operation == "" {
			e.Operation = prev.Operation
		}
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = e.UpdatedAt
	}
	r.data[e.TicketID] = e
	return nil
}

// UpdateStatus records the latest observed status.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, ticketID string, status tickets.Status, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[ticketID]
	if !ok {
		return ErrNotFound
	}
	e.Status, e.StatusMessage, e.UpdatedAt = status, message, r.now().UTC()
	r.data[ticketID] = e
	return nil
}

// SetStorageKey records where the ticket's output was saved.
func (r *MemoryRepo) SetStorageKey(ctx context.Context, ticketID, storageKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[ticketID]
	if !ok {
		return ErrNotFound
	}
	e.StorageKey, e.UpdatedAt = storageKey, r.now().UTC()
	r.data[ticketID] = e
	return nil
}

// ListActive returns non-terminal entries, oldest first.
func (r *MemoryRepo) ListActive(ctx context.Context, ownerID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Entry{}
	for _, e := range r.data {
		if !e.Active() || (ownerID != "" && e.OwnerID != ownerID) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one entry.
func (r *MemoryRepo) Get(ctx context.Context, ticketID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[ticketID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

var _ Repo = (*MemoryRepo)(nil)
