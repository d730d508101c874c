package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/storage"
)

func newJanitorTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewBboltStore(dir)
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJanitorPrunesExpiredRecords(t *testing.T) {
	store := newJanitorTestStore(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	if _, err := store.AttemptIncrement("stale@example.com", past); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AttemptIncrement("fresh@example.com", future); err != nil {
		t.Fatal(err)
	}
	if err := store.ConfirmationPut("stale@example.com", past.Add(-time.Hour), past); err != nil {
		t.Fatal(err)
	}
	if err := store.ConfirmationPut("fresh@example.com", time.Now(), future); err != nil {
		t.Fatal(err)
	}

	j := NewJanitor(store, 100*time.Millisecond, zerolog.Nop())
	j.tick()

	if rec, _ := store.AttemptGet("stale@example.com"); rec != nil {
		t.Error("expired attempt should have been pruned")
	}
	if rec, _ := store.AttemptGet("fresh@example.com"); rec == nil {
		t.Error("fresh attempt should not be pruned")
	}
	if rec, _ := store.ConfirmationGet("stale@example.com"); rec != nil {
		t.Error("expired confirmation should have been pruned")
	}
	if rec, _ := store.ConfirmationGet("fresh@example.com"); rec == nil {
		t.Error("fresh confirmation should not be pruned")
	}
}

func TestJanitorEvictsBlockedRecords(t *testing.T) {
	store := newJanitorTestStore(t)

	// A blocked address leaves the store only through this sweep.
	past := time.Now().Add(-time.Minute)
	if _, err := store.AttemptIncrement("blocked@example.com", past); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AttemptBlock("blocked@example.com", past); err != nil {
		t.Fatal(err)
	}

	j := NewJanitor(store, 100*time.Millisecond, zerolog.Nop())
	j.tick()

	if rec, _ := store.AttemptGet("blocked@example.com"); rec != nil {
		t.Errorf("expired blocked record should have been evicted, got %+v", rec)
	}
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	store := newJanitorTestStore(t)
	j := NewJanitor(store, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
