package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adam-Maverick/perks-app-sub000/internal/testutil"
)

func TestPostgresStore_TransitionLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	m := NewMachine(store, testLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	h := &Hold{
		ID:            "hold_pgtest1",
		TransactionID: "txn_pgtest1",
		MerchantID:    "merch_pg",
		Amount:        7500,
		State:         StateHeld,
		HeldAt:        now,
		UpdatedAt:     now,
	}
	if err := store.Create(ctx, h); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Duplicate transaction is rejected by the unique index.
	dup := *h
	dup.ID = "hold_pgtest2"
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrHoldExists) {
		t.Errorf("Expected ErrHoldExists, got %v", err)
	}

	got, err := store.GetByTransaction(ctx, "txn_pgtest1")
	if err != nil {
		t.Fatalf("GetByTransaction failed: %v", err)
	}
	if got.ID != h.ID || got.Amount != 7500 {
		t.Errorf("GetByTransaction returned %+v", got)
	}

	if _, err := m.Transition(ctx, h.ID, StateDisputed, "user_pg", "item damaged"); err != nil {
		t.Fatalf("HELD -> DISPUTED failed: %v", err)
	}
	released, err := m.Transition(ctx, h.ID, StateReleased, "admin_pg", "resolved for merchant")
	if err != nil {
		t.Fatalf("DISPUTED -> RELEASED failed: %v", err)
	}
	if released.ReleasedAt == nil {
		t.Error("Expected ReleasedAt set after release")
	}

	entries, err := store.ListAudit(ctx, h.ID, 10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].ToState != StateDisputed || entries[1].ToState != StateReleased {
		t.Errorf("Audit order wrong: %s then %s", entries[0].ToState, entries[1].ToState)
	}

	// Rejected edge leaves the row untouched.
	if _, err := m.Transition(ctx, h.ID, StateRefunded, "admin_pg", "too late"); err == nil {
		t.Error("Expected RELEASED -> REFUNDED to fail")
	}
	after, _ := store.Get(ctx, h.ID)
	if after.State != StateReleased {
		t.Errorf("State mutated by rejected transition: %s", after.State)
	}
}

func TestPostgresStore_HeldQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	holds := []*Hold{
		{ID: "hold_q1", TransactionID: "txn_q1", MerchantID: "m1", Amount: 1000, State: StateHeld, HeldAt: base.AddDate(0, 0, -20), UpdatedAt: base},
		{ID: "hold_q2", TransactionID: "txn_q2", MerchantID: "m1", Amount: 2000, State: StateHeld, HeldAt: base.AddDate(0, 0, -7), UpdatedAt: base},
		{ID: "hold_q3", TransactionID: "txn_q3", MerchantID: "m2", Amount: 4000, State: StateHeld, HeldAt: base, UpdatedAt: base},
	}
	for _, h := range holds {
		if err := store.Create(ctx, h); err != nil {
			t.Fatalf("Create %s failed: %v", h.ID, err)
		}
	}

	old, err := store.ListHeldBefore(ctx, base.AddDate(0, 0, -14), 100)
	if err != nil {
		t.Fatalf("ListHeldBefore failed: %v", err)
	}
	if len(old) != 1 || old[0].ID != "hold_q1" {
		t.Errorf("Expected hold_q1 only, got %d holds", len(old))
	}

	day, err := store.ListHeldOnDay(ctx, base.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("ListHeldOnDay failed: %v", err)
	}
	if len(day) != 1 || day[0].ID != "hold_q2" {
		t.Errorf("Expected hold_q2 only, got %d holds", len(day))
	}

	total, err := store.SumHeld(ctx)
	if err != nil {
		t.Fatalf("SumHeld failed: %v", err)
	}
	if total != 7000 {
		t.Errorf("Expected held total 7000, got %d", total)
	}

	if _, err := store.Get(ctx, "hold_missing"); !errors.Is(err, ErrHoldNotFound) {
		t.Errorf("Expected ErrHoldNotFound, got %v", err)
	}
}
