package watchlist

import (
	"context"
	"errors"
	"strings"

	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
)

// Service adapts a Repo to the tracker and download hooks.
type Service struct {
	repo Repo
}

// NewService wraps repo.
func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// Record upserts the ticket's latest observed state.
func (s *Service) Record(ctx context.Context, t tickets.Ticket) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("ticket id is required")
	}
	return s.repo.Upsert(ctx, Entry{
		TicketID:      t.ID,
		OwnerID:       t.OwnerID,
		Operation:     t.OperationType,
		Status:        t.Status,
		StatusMessage: t.StatusMessage,
		CreatedAt:     t.CreatedAt,
	})
}

// SetStorageKey records where a ticket's output was saved. Tickets that were
// never recorded are ignored.
func (s *Service) SetStorageKey(ctx context.Context, ticketID, storageKey string) error {
	err := s.repo.SetStorageKey(ctx, ticketID, storageKey)
	if errors.Is(err, ErrNotFound) {
		telemetry.Warn("watchlist.untracked_download", map[string]any{"ticket_id": ticketID})
		return nil
	}
	return err
}

// Active lists tickets that still need monitoring.
func (s *Service) Active(ctx context.Context, ownerID string) ([]Entry, error) {
	return s.repo.ListActive(ctx, strings.TrimSpace(ownerID))
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, ticketID string) (Entry, error) {
	return s.repo.Get(ctx, ticketID)
}
