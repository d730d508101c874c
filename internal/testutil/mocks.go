package testutil

import (
	"context"
	"sync"

	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/mailcheck"
)

// MockChecker implements flow.Checker with a canned per-address verdict.
type MockChecker struct {
	// Reject maps a raw input to a rejection; anything absent passes.
	Reject map[string]mailcheck.Result
	// Err is returned for every address when set.
	Err error
}

func (m *MockChecker) Check(_ context.Context, raw string) (mailcheck.Result, error) {
	if m.Err != nil {
		return mailcheck.Result{}, m.Err
	}
	if res, ok := m.Reject[raw]; ok {
		return res, nil
	}
	return mailcheck.Result{OK: true, Normalized: raw}, nil
}

// MockSender implements mailer.Sender, recording every delivery.
type MockSender struct {
	mu         sync.Mutex
	Deliveries []Delivery
	Err        error // returned on every send when set
}

// Delivery records one SendConfirmation call.
type Delivery struct {
	To         string
	ConfirmURL string
	File       string
}

func (m *MockSender) SendConfirmation(_ context.Context, to, confirmURL, file string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Deliveries = append(m.Deliveries, Delivery{To: to, ConfirmURL: confirmURL, File: file})
	return "delivery-" + to, nil
}

// Sent returns a copy of the recorded deliveries.
func (m *MockSender) Sent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.Deliveries))
	copy(out, m.Deliveries)
	return out
}

// MockArchive implements archive.Store with per-file state and counters.
type MockArchive struct {
	mu       sync.Mutex
	States   map[string]archive.RestoreState
	HeadErr  error
	InitErr  error
	PingErr  error
	Restores map[string]int // file -> InitiateRestore call count
}

// NewMockArchive returns a MockArchive where every file starts not requested.
func NewMockArchive() *MockArchive {
	return &MockArchive{
		States:   make(map[string]archive.RestoreState),
		Restores: make(map[string]int),
	}
}

// SetState pins a file's restore state.
func (m *MockArchive) SetState(file string, state archive.RestoreState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.States[file] = state
}

func (m *MockArchive) HeadStatus(_ context.Context, file string) (archive.RestoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeadErr != nil {
		return "", m.HeadErr
	}
	state, ok := m.States[file]
	if !ok {
		return archive.StateNotRequested, nil
	}
	return state, nil
}

func (m *MockArchive) InitiateRestore(_ context.Context, file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InitErr != nil {
		return m.InitErr
	}
	m.Restores[file]++
	m.States[file] = archive.StateInProgress
	return nil
}

func (m *MockArchive) Ping(_ context.Context) error {
	return m.PingErr
}

// RestoreCalls reports how many times InitiateRestore ran for file.
func (m *MockArchive) RestoreCalls(file string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Restores[file]
}
