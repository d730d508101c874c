package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketAttempts      = "attempts"
	bucketConfirmations = "confirmations"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/gatekeeper.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "gatekeeper.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketAttempts, bucketConfirmations} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Attempt operations ----------------------------------------------------

func (s *bboltStore) AttemptGet(email string) (*AttemptRecord, error) {
	var rec AttemptRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketAttempts)).Get([]byte(email))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// AttemptIncrement is an atomic increment-or-set: bbolt serializes writers,
// so the read and write of the record happen inside one transaction and
// concurrent callers for the same address never lose an update.
func (s *bboltStore) AttemptIncrement(email string, expiresAt time.Time) (*AttemptRecord, error) {
	var rec AttemptRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttempts))
		key := []byte(email)
		if raw := b.Get(key); raw != nil {
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("unmarshal AttemptRecord for %s: %w", email, err)
			}
			rec.Tries++
		} else {
			rec = AttemptRecord{
				Email:     email,
				Tries:     1,
				CreatedAt: time.Now().UTC(),
				ExpiresAt: expiresAt.UTC(),
			}
		}
		data, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal AttemptRecord: %w", err)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AttemptBlock sets BlockedUntil only when unset. A record that vanished
// between the caller's read and this write is recreated with the block in
// place; either way both of two racing callers observe a blocked record.
func (s *bboltStore) AttemptBlock(email string, until time.Time) (*AttemptRecord, error) {
	var rec AttemptRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAttempts))
		key := []byte(email)
		if raw := b.Get(key); raw != nil {
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("unmarshal AttemptRecord for %s: %w", email, err)
			}
			if !rec.BlockedUntil.IsZero() {
				return nil // transition already happened; keep the first writer's value
			}
			rec.BlockedUntil = until.UTC()
		} else {
			rec = AttemptRecord{
				Email:        email,
				BlockedUntil: until.UTC(),
				CreatedAt:    time.Now().UTC(),
				ExpiresAt:    until.UTC(),
			}
		}
		data, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal AttemptRecord: %w", err)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *bboltStore) AttemptList() (map[string]AttemptRecord, error) {
	result := make(map[string]AttemptRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAttempts)).ForEach(func(k, v []byte) error {
			var rec AttemptRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal AttemptRecord for %s: %w", k, err)
			}
			result[string(k)] = rec
			return nil
		})
	})
	return result, err
}

// ---- Confirmation operations -----------------------------------------------

func (s *bboltStore) ConfirmationGet(email string) (*ConfirmationRecord, error) {
	var rec ConfirmationRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketConfirmations)).Get([]byte(email))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ConfirmationPut is an upsert: repeat confirmations refresh the expiry.
func (s *bboltStore) ConfirmationPut(email string, confirmedAt, expiresAt time.Time) error {
	rec := ConfirmationRecord{
		Email:       email,
		ConfirmedAt: confirmedAt.UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ConfirmationRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketConfirmations)).Put([]byte(email), data)
	})
}

// ---- Expiry sweep ----------------------------------------------------------

func (s *bboltStore) PruneExpiredAttempts() (int, error) {
	return s.pruneBucket(bucketAttempts, func(v []byte, now time.Time) bool {
		var rec AttemptRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return false // skip corrupt entries
		}
		return !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now)
	})
}

func (s *bboltStore) PruneExpiredConfirmations() (int, error) {
	return s.pruneBucket(bucketConfirmations, func(v []byte, now time.Time) bool {
		var rec ConfirmationRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return false
		}
		return !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now)
	})
}

func (s *bboltStore) pruneBucket(bucket string, expired func(v []byte, now time.Time) bool) (int, error) {
	now := time.Now().UTC()
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if expired(v, now) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
