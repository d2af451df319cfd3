package watchlist

import (
	"context"

	"sunat-client/internal/tickets"
)

// Repo persists watchlist entries.
type Repo interface {
	// Upsert inserts the entry or refreshes status, owner and operation of an existing one.
	Upsert(ctx context.Context, e Entry) error
	UpdateStatus(ctx context.Context, ticketID string, status tickets.Status, message string) error
	SetStorageKey(ctx context.Context, ticketID, storageKey string) error
	// ListActive returns non-terminal entries, oldest first. An empty owner lists all owners.
	ListActive(ctx context.Context, ownerID string) ([]Entry, error)
	Get(ctx context.Context, ticketID string) (Entry, error)
}
