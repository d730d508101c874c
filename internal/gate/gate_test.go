package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/storage"
	"github.com/glaciergate/glaciergate/internal/testutil"
)

func newTestGate(t *testing.T, store storage.Store, limit int) *Gate {
	t.Helper()
	g, err := New(Config{
		TriesLimit:    limit,
		BlockDuration: time.Hour,
		RecordTTL:     24 * time.Hour,
	}, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewRejectsBadConfig(t *testing.T) {
	store := testutil.NewMockStore()
	if _, err := New(Config{TriesLimit: 0, BlockDuration: time.Hour, RecordTTL: time.Hour}, store, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero tries limit")
	}
	if _, err := New(Config{TriesLimit: 5, BlockDuration: 0, RecordTTL: time.Hour}, store, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero block duration")
	}
}

func TestAdmitFirstRequest(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	dec, err := g.Admit("alice@example.com")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !dec.Allowed || !dec.FirstRequest {
		t.Fatalf("expected first-request allow, got %+v", dec)
	}

	// Admit itself creates nothing; RecordFirst does that.
	rec, err := store.AttemptGet("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("Admit must not create a record, got %+v", rec)
	}
}

func TestAdmitCountsUpToLimit(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	g.RecordFirst("bob@example.com")

	// Tries 2..6 are still within a limit of 5: the record that holds
	// tries == limit+1 is the one that trips the block on the next call.
	for i := 2; i <= 6; i++ {
		dec, err := g.Admit("bob@example.com")
		if err != nil {
			t.Fatalf("Admit #%d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("Admit #%d: expected allow, got %+v", i, dec)
		}
		if dec.FirstRequest {
			t.Fatalf("Admit #%d: record exists, must not be first request", i)
		}
		rec, _ := store.AttemptGet("bob@example.com")
		if rec.Tries != i {
			t.Fatalf("Admit #%d: tries = %d, want %d", i, rec.Tries, i)
		}
	}
}

func TestAdmitTripsBlockAndStays(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	g.RecordFirst("eve@example.com")
	for i := 2; i <= 6; i++ {
		if _, err := g.Admit("eve@example.com"); err != nil {
			t.Fatal(err)
		}
	}

	dec, err := g.Admit("eve@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != DenyTooManyTries {
		t.Fatalf("expected too_many_tries denial, got %+v", dec)
	}
	rec, _ := store.AttemptGet("eve@example.com")
	if rec.BlockedUntil.IsZero() {
		t.Fatal("expected blockedUntil to be set")
	}

	dec, err = g.Admit("eve@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != DenyAlreadyBlocked {
		t.Fatalf("expected already_blocked denial, got %+v", dec)
	}
	// The tries counter must not move once blocked.
	after, _ := store.AttemptGet("eve@example.com")
	if after.Tries != rec.Tries {
		t.Fatalf("tries moved while blocked: %d -> %d", rec.Tries, after.Tries)
	}
}

func TestAdmitStaleBlockStillDenies(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	// A block whose deadline has passed but whose record has not yet
	// been swept away still denies: only eviction un-blocks.
	store.SeedAttempt(storage.AttemptRecord{
		Email:        "stale@example.com",
		Tries:        9,
		BlockedUntil: time.Now().Add(-time.Hour).UTC(),
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	})

	dec, err := g.Admit("stale@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != DenyAlreadyBlocked {
		t.Fatalf("expected already_blocked denial, got %+v", dec)
	}
}

func TestAdmitFailsClosedOnStorageError(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	boom := errors.New("disk on fire")
	store.SetError("AttemptGet", boom)

	dec, err := g.Admit("carol@example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
	if dec.Allowed {
		t.Fatal("storage failure must never admit")
	}
}

func TestAdmitFailsClosedOnIncrementError(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	g.RecordFirst("dave@example.com")
	boom := errors.New("write failed")
	store.SetError("AttemptIncrement", boom)

	dec, err := g.Admit("dave@example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
	if dec.Allowed {
		t.Fatal("storage failure must never admit")
	}
}

func TestRecordFirst(t *testing.T) {
	store := testutil.NewMockStore()
	g := newTestGate(t, store, 5)

	if err := g.RecordFirst("frank@example.com"); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.AttemptGet("frank@example.com")
	if rec == nil || rec.Tries != 1 {
		t.Fatalf("expected tries=1, got %+v", rec)
	}
	if rec.ExpiresAt.IsZero() {
		t.Fatal("expected record expiry to be set")
	}
}
