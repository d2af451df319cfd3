package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sunat-client/internal/tickets"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Upsert inserts the entry or refreshes an existing row. created_at and
// storage_key of an existing row are preserved.
func (r *PGRepo) Upsert(ctx context.Context, e Entry) error {
	const query = `
INSERT INTO ticket_watchlist (
    ticket_id,
    ruc,
    operation_type,
    status,
    status_message,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ticket_id) DO UPDATE SET
    ruc = COALESCE(NULLIF(EXCLUDED.ruc, ''), ticket_watchlist.ruc),
    operation_type = COALESCE(NULLIF(EXCLUDED.operation_type, ''), ticket_watchlist.operation_type),
    status = EXCLUDED.status,
    status_message = EXCLUDED.status_message,
    updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := r.DB.ExecContext(ctx, query,
		e.TicketID,
		e.OwnerID,
		string(e.Operation),
		string(e.Status),
		nullString(e.StatusMessage),
		createdAt,
		updatedAt,
	)
	return err
}

// UpdateStatus records the latest observed status.
func (r *PGRepo) UpdateStatus(ctx context.Context, ticketID string, status tickets.Status, message string) error {
	const query = `
UPDATE ticket_watchlist
SET status = $2, status_message = $3, updated_at = $4
WHERE ticket_id = $1`
	res, err := r.DB.ExecContext(ctx, query, ticketID, string(status), nullString(message), time.Now().UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SetStorageKey records where the ticket's output was saved.
func (r *PGRepo) SetStorageKey(ctx context.Context, ticketID, storageKey string) error {
	const query = `
UPDATE ticket_watchlist
SET storage_key = $2, updated_at = $3
WHERE ticket_id = $1`
	res, err := r.DB.ExecContext(ctx, query, ticketID, storageKey, time.Now().UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ListActive returns PENDING and PROCESSING entries, oldest first.
func (r *PGRepo) ListActive(ctx context.Context, ownerID string) ([]Entry, error) {
	const query = `
SELECT ticket_id, ruc, operation_type, status, status_message, storage_key, created_at, updated_at
FROM ticket_watchlist
WHERE status IN ('PENDING', 'PROCESSING') AND ($1 = '' OR ruc = $1)
ORDER BY created_at ASC, ticket_id ASC`

	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one entry.
func (r *PGRepo) Get(ctx context.Context, ticketID string) (Entry, error) {
	const query = `
SELECT ticket_id, ruc, operation_type, status, status_message, storage_key, created_at, updated_at
FROM ticket_watchlist
WHERE ticket_id = $1`
	e, err := scanEntry(r.DB.QueryRowContext(ctx, query, ticketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var operation, status string
	var message, storageKey sql.NullString
	if err := s.Scan(&e.TicketID, &e.OwnerID, &operation, &status, &message, &storageKey, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	e.Operation = tickets.OperationType(operation)
	e.Status = tickets.Status(status)
	if message.Valid {
		e.StatusMessage = message.String
	}
	if storageKey.Valid {
		e.StorageKey = storageKey.String
	}
	return e, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
