package memory

import (
	"context"
	"sync"
	"time"

	"github.com/runtimegov/governor/internal/domain/governor"
)

// StateStore is an in-memory implementation of governor.StateStore,
// suitable for development and testing; the durable default is the
// file-backed store in adapter/outbound/state.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]governor.Entry
	now     func() time.Time
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		entries: make(map[string]governor.Entry),
		now:     time.Now,
	}
}

// Get implements governor.StateStore.
func (s *StateStore) Get(_ context.Context, key string) (governor.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

// Set implements governor.StateStore.
func (s *StateStore) Set(_ context.Context, key, value, actorID string) (governor.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := governor.Entry{Key: key, Value: value, ModifiedAt: s.now(), ActorID: actorID}
	s.entries[key] = e
	return e, nil
}

var _ governor.StateStore = (*StateStore)(nil)
