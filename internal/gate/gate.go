// Package gate implements admission control for retrieval requests, keyed
// by email address. It owns the AttemptRecord lifecycle: created on a
// first request, mutated on every subsequent one, removed only by the
// storage layer's expiry sweep.
package gate

import (
	"fmt"
	"time"

	"github.com/glaciergate/glaciergate/internal/metrics"
	"github.com/glaciergate/glaciergate/internal/storage"
	"github.com/rs/zerolog"
)

// DenyReason says why an address was refused admission.
type DenyReason string

const (
	// DenyAlreadyBlocked marks an address with a live block.
	DenyAlreadyBlocked DenyReason = "already_blocked"
	// DenyTooManyTries marks an address that just crossed the limit.
	DenyTooManyTries DenyReason = "too_many_tries"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed      bool
	FirstRequest bool       // meaningful only when Allowed
	Reason       DenyReason // meaningful only when !Allowed
}

// Gate decides, per address, whether a retrieval request may proceed.
type Gate struct {
	store      storage.Store
	triesLimit int
	blockFor   time.Duration
	recordTTL  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Config holds gate parameters.
type Config struct {
	TriesLimit    int           // requests allowed before blocking
	BlockDuration time.Duration // how long a block lasts
	RecordTTL     time.Duration // attempt-record lifetime in the store
	Now           func() time.Time
}

// New constructs a Gate backed by the given store.
func New(cfg Config, store storage.Store, log zerolog.Logger) (*Gate, error) {
	if cfg.TriesLimit < 1 {
		return nil, fmt.Errorf("tries limit must be >= 1, got %d", cfg.TriesLimit)
	}
	if cfg.BlockDuration <= 0 || cfg.RecordTTL <= 0 {
		return nil, fmt.Errorf("block duration and record TTL must be > 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:      store,
		triesLimit: cfg.TriesLimit,
		blockFor:   cfg.BlockDuration,
		recordTTL:  cfg.RecordTTL,
		now:        now,
		log:        log,
	}, nil
}

// Admit checks whether a request from email may proceed. A storage error
// fails closed: the caller must treat it as a denial of the whole request,
// never as an allow. Admit performs the gate's own bookkeeping (increment,
// block transition) but leaves first-request record creation to
// RecordFirst so a rejected-downstream first request is visible to the
// caller as such.
func (g *Gate) Admit(email string) (Decision, error) {
	rec, err := g.store.AttemptGet(email)
	if err != nil {
		return Decision{}, fmt.Errorf("read attempt record: %w", err)
	}
	now := g.now()

	if rec == nil {
		return Decision{Allowed: true, FirstRequest: true}, nil
	}

	if !rec.BlockedUntil.IsZero() {
		// Once set, BlockedUntil is never cleared here: the record's
		// eviction by the expiry sweep is the only way an address
		// un-blocks. A stale block that outlived its own timestamp
		// still denies until the sweep removes the record.
		metrics.AdmissionDenied.WithLabelValues(string(DenyAlreadyBlocked)).Inc()
		g.log.Debug().Str("reason", string(DenyAlreadyBlocked)).Msg("admission denied")
		return Decision{Reason: DenyAlreadyBlocked}, nil
	}

	if rec.Tries > g.triesLimit {
		// Transition into the blocked state. The store applies it
		// only-if-unset, so two racing calls converge on one value.
		if _, err := g.store.AttemptBlock(email, now.Add(g.blockFor)); err != nil {
			return Decision{}, fmt.Errorf("set block: %w", err)
		}
		metrics.AdmissionDenied.WithLabelValues(string(DenyTooManyTries)).Inc()
		g.log.Info().Int("tries", rec.Tries).Msg("address blocked: too many retrieval requests")
		return Decision{Reason: DenyTooManyTries}, nil
	}

	if _, err := g.store.AttemptIncrement(email, now.Add(g.recordTTL)); err != nil {
		return Decision{}, fmt.Errorf("increment tries: %w", err)
	}
	return Decision{Allowed: true}, nil
}

// RecordFirst creates the attempt record for an address the gate has just
// admitted for the first time. Under a same-address race the underlying
// increment-or-set converges without losing an update.
func (g *Gate) RecordFirst(email string) error {
	if _, err := g.store.AttemptIncrement(email, g.now().Add(g.recordTTL)); err != nil {
		return fmt.Errorf("create attempt record: %w", err)
	}
	return nil
}
