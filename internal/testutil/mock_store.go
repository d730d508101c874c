package testutil

import (
	"sync"
	"time"

	"github.com/glaciergate/glaciergate/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu            sync.Mutex
	attempts      map[string]storage.AttemptRecord
	confirmations map[string]storage.ConfirmationRecord

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		attempts:      make(map[string]storage.AttemptRecord),
		confirmations: make(map[string]storage.ConfirmationRecord),
		errors:        make(map[string]error),
		Size:          1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// SeedAttempt installs an attempt record directly, bypassing the increment path.
func (m *MockStore) SeedAttempt(rec storage.AttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[rec.Email] = rec
}

// --- Attempt operations -----------------------------------------------------

func (m *MockStore) AttemptGet(email string) (*storage.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AttemptGet"); err != nil {
		return nil, err
	}
	rec, ok := m.attempts[email]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MockStore) AttemptIncrement(email string, expiresAt time.Time) (*storage.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AttemptIncrement"); err != nil {
		return nil, err
	}
	rec, ok := m.attempts[email]
	if ok {
		rec.Tries++
	} else {
		rec = storage.AttemptRecord{
			Email:     email,
			Tries:     1,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: expiresAt.UTC(),
		}
	}
	m.attempts[email] = rec
	cp := rec
	return &cp, nil
}

func (m *MockStore) AttemptBlock(email string, until time.Time) (*storage.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AttemptBlock"); err != nil {
		return nil, err
	}
	rec, ok := m.attempts[email]
	if !ok {
		rec = storage.AttemptRecord{
			Email:        email,
			BlockedUntil: until.UTC(),
			CreatedAt:    time.Now().UTC(),
			ExpiresAt:    until.UTC(),
		}
	} else if rec.BlockedUntil.IsZero() {
		rec.BlockedUntil = until.UTC()
	}
	m.attempts[email] = rec
	cp := rec
	return &cp, nil
}

func (m *MockStore) AttemptList() (map[string]storage.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AttemptList"); err != nil {
		return nil, err
	}
	result := make(map[string]storage.AttemptRecord, len(m.attempts))
	for k, v := range m.attempts {
		result[k] = v
	}
	return result, nil
}

// --- Confirmation operations ------------------------------------------------

func (m *MockStore) ConfirmationGet(email string) (*storage.ConfirmationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ConfirmationGet"); err != nil {
		return nil, err
	}
	rec, ok := m.confirmations[email]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MockStore) ConfirmationPut(email string, confirmedAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ConfirmationPut"); err != nil {
		return err
	}
	m.confirmations[email] = storage.ConfirmationRecord{
		Email:       email,
		ConfirmedAt: confirmedAt.UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	return nil
}

// --- Expiry sweep -----------------------------------------------------------

func (m *MockStore) PruneExpiredAttempts() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneExpiredAttempts"); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	pruned := 0
	for email, rec := range m.attempts {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			delete(m.attempts, email)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MockStore) PruneExpiredConfirmations() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("PruneExpiredConfirmations"); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	pruned := 0
	for email, rec := range m.confirmations {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			delete(m.confirmations, email)
			pruned++
		}
	}
	return pruned, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
