package watchlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"sunat-client/internal/tickets"
)

func TestRecordKeepsCreatedAtAndStorageKey(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	created := time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC)

	first := tickets.Ticket{ID: "t-1", OwnerID: "20123456789", OperationType: tickets.OpDownloadDeclaration, Status: tickets.StatusPending, CreatedAt: created}
	if err := svc.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := svc.SetStorageKey(ctx, "t-1", "20123456789/LE.zip"); err != nil {
		t.Fatalf("SetStorageKey: %v", err)
	}
	if err := svc.Record(ctx, tickets.Ticket{ID: "t-1", Status: tickets.StatusProcessing, StatusMessage: "Procesando"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := svc.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CreatedAt.Equal(created) || got.StorageKey != "20123456789/LE.zip" {
		t.Fatalf("lost fields: %+v", got)
	}
	if got.OwnerID != "20123456789" || got.Operation != tickets.OpDownloadDeclaration || got.Status != tickets.StatusProcessing {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestActiveSkipsTerminalAndOtherOwners(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	base := time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC)
	for i, tk := range []tickets.Ticket{
		{ID: "b", OwnerID: "20123456789", Status: tickets.StatusProcessing},
		{ID: "a", OwnerID: "20123456789", Status: tickets.StatusPending},
		{ID: "c", OwnerID: "20123456789", Status: tickets.StatusDone},
		{ID: "d", OwnerID: "20999999999", Status: tickets.StatusPending},
	} {
		tk.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := svc.Record(ctx, tk); err != nil {
			t.Fatalf("Record %s: %v", tk.ID, err)
		}
	}

	got, err := svc.Active(ctx, " 20123456789 ")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(got) != 2 || got[0].TicketID != "b" || got[1].TicketID != "a" {
		t.Fatalf("unexpected active entries %+v", got)
	}

	all, _ := svc.Active(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 active entries across owners, got %d", len(all))
	}
}

func TestSetStorageKeyUntrackedIsIgnored(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.SetStorageKey(context.Background(), "nope", "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRecordRequiresID(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Record(context.Background(), tickets.Ticket{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMemoryRepoUpdateStatus(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	if err := repo.UpdateStatus(ctx, "t-1", tickets.StatusDone, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = repo.Upsert(ctx, Entry{TicketID: "t-1", Status: tickets.StatusPending})
	if err := repo.UpdateStatus(ctx, "t-1", tickets.StatusDone, "listo"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	e, _ := repo.Get(ctx, "t-1")
	if e.Active() || e.StatusMessage != "listo" {
		t.Fatalf("unexpected entry %+v", e)
	}
}
