package memory

import (
	"context"
	"sync"

	"github.com/runtimegov/governor/internal/domain/verification"
)

// VerificationStore is an in-memory implementation of verification.Store.
type VerificationStore struct {
	mu   sync.Mutex
	logs map[string]verification.VerificationLog
}

// NewVerificationStore creates an empty VerificationStore.
func NewVerificationStore() *VerificationStore {
	return &VerificationStore{logs: make(map[string]verification.VerificationLog)}
}

// Append implements verification.Store.
func (s *VerificationStore) Append(_ context.Context, log verification.VerificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.ActionID] = log
	return nil
}

// Get implements verification.Store.
func (s *VerificationStore) Get(_ context.Context, actionID string) (verification.VerificationLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[actionID]
	return log, ok, nil
}

var _ verification.Store = (*VerificationStore)(nil)
