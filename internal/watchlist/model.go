package watchlist

import (
	"errors"
	"time"

	"sunat-client/internal/tickets"
)

// ErrNotFound is returned when a ticket is not on the watchlist.
var ErrNotFound = errors.New("watchlist entry not found")

// Entry is a ticket this client created or observed, kept so monitoring can
// resume after a restart.
type Entry struct {
	TicketID      string                `json:"ticket_id"`
	OwnerID       string                `json:"ruc"`
	Operation     tickets.OperationType `json:"operation_type"`
	Status        tickets.Status        `json:"status"`
	StatusMessage string                `json:"status_message,omitempty"`
	StorageKey    string                `json:"storage_key,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Active reports whether the ticket still needs monitoring.
func (e Entry) Active() bool { return !e.Status.Terminal() }
