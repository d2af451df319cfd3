package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sunat-client/internal/tickets"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO ticket_watchlist").
		WithArgs(
			"t-1",
			"20123456789",
			string(tickets.OpDownloadDeclaration),
			string(tickets.StatusPending),
			nil, // status_message
			created,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), Entry{
		TicketID:  "t-1",
		OwnerID:   "20123456789",
		Operation: tickets.OpDownloadDeclaration,
		Status:    tickets.StatusPending,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateStatusMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE ticket_watchlist").
		WithArgs("missing", string(tickets.StatusDone), "listo", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", tickets.StatusDone, "listo")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoSetStorageKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE ticket_watchlist").
		WithArgs("t-1", "20123456789/LE.zip", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetStorageKey(context.Background(), "t-1", "20123456789/LE.zip"); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"ticket_id", "ruc", "operation_type", "status", "status_message", "storage_key", "created_at", "updated_at",
	}).
		AddRow("t-1", "20123456789", "download-declaration", "PENDING", nil, nil, now, now).
		AddRow("t-2", "20123456789", "accept-declaration", "PROCESSING", "Procesando", nil, now, now)

	mock.ExpectQuery("SELECT ticket_id, ruc").
		WithArgs("20123456789").
		WillReturnRows(rows)

	got, err := repo.ListActive(context.Background(), "20123456789")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[1].Status != tickets.StatusProcessing || got[1].StatusMessage != "Procesando" || got[0].StatusMessage != "" {
		t.Fatalf("unexpected entries %+v", got)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT ticket_id, ruc").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
