package storage

import (
	"time"
)

// AttemptRecord is the per-address abuse-tracking state. Tries only ever
// increases; BlockedUntil, once set, is never cleared — the record as a
// whole is removed by the expiry sweep when ExpiresAt passes. The flows
// never delete it.
type AttemptRecord struct {
	Email        string
	Tries        int
	BlockedUntil time.Time // zero = not blocked
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Blocked reports whether the record carries a live block at the given instant.
func (r *AttemptRecord) Blocked(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// ConfirmationRecord marks a completed token confirmation for an address.
// It lives in its own bucket, independent of AttemptRecord.
type ConfirmationRecord struct {
	Email       string
	ConfirmedAt time.Time
	ExpiresAt   time.Time
}

// Live reports whether the confirmation has not yet expired.
func (r *ConfirmationRecord) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Store is the persistence interface for the gatekeeper. Every mutation is
// atomic at the single-record level: implementations must never require the
// caller to read-modify-write across calls.
type Store interface {
	// Attempt operations
	AttemptGet(email string) (*AttemptRecord, error)
	// AttemptIncrement bumps Tries by one, creating the record with
	// Tries=1 and the given expiry when absent. Returns the post-state.
	AttemptIncrement(email string, expiresAt time.Time) (*AttemptRecord, error)
	// AttemptBlock sets BlockedUntil only when it is unset, so the
	// blocked transition happens at most once per record; concurrent
	// callers converge on the first writer's value. Returns the winning
	// record.
	AttemptBlock(email string, until time.Time) (*AttemptRecord, error)
	AttemptList() (map[string]AttemptRecord, error)

	// Confirmation operations
	ConfirmationGet(email string) (*ConfirmationRecord, error)
	ConfirmationPut(email string, confirmedAt, expiresAt time.Time) error

	// Expiry sweep (stands in for a TTL-evicting store; the flows never delete)
	PruneExpiredAttempts() (int, error)
	PruneExpiredConfirmations() (int, error)

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
