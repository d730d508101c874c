package gatekeeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/metrics"
	"github.com/glaciergate/glaciergate/internal/storage"
)

// Janitor performs periodic housekeeping: evicting expired records and
// refreshing the storage gauges. Eviction is the only way blocked
// addresses and stale confirmations ever leave the store.
type Janitor struct {
	store    storage.Store
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(store storage.Store, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{store: store, interval: interval, log: log}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

// Sweep runs a single housekeeping pass. Exposed for the one-shot prune
// command; Run calls it on every tick.
func (j *Janitor) Sweep() {
	j.tick()
}

func (j *Janitor) tick() {
	pruned, err := j.store.PruneExpiredAttempts()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: prune expired attempts failed")
	} else if pruned > 0 {
		metrics.RecordsPruned.WithLabelValues("attempts").Add(float64(pruned))
		j.log.Info().Int("count", pruned).Msg("janitor: pruned expired attempts")
	}

	pruned, err = j.store.PruneExpiredConfirmations()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: prune expired confirmations failed")
	} else if pruned > 0 {
		metrics.RecordsPruned.WithLabelValues("confirmations").Add(float64(pruned))
		j.log.Info().Int("count", pruned).Msg("janitor: pruned expired confirmations")
	}

	// Refresh gauges from the surviving attempt records.
	attempts, err := j.store.AttemptList()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: list attempts failed")
	} else {
		blocked := 0
		for _, rec := range attempts {
			if !rec.BlockedUntil.IsZero() {
				blocked++
			}
		}
		metrics.TrackedAttempts.Set(float64(len(attempts)))
		metrics.ActiveBlocks.Set(float64(blocked))
	}

	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	j.log.Debug().Msg("janitor: tick complete")
}
