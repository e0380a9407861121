package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runtimegov/governor/internal/domain/escalation"
)

// EscalationStore is an in-memory implementation of escalation.Store.
type EscalationStore struct {
	mu     sync.Mutex
	events map[string]escalation.Event
	now    func() time.Time
}

// NewEscalationStore creates an empty EscalationStore.
func NewEscalationStore() *EscalationStore {
	return &EscalationStore{
		events: make(map[string]escalation.Event),
		now:    time.Now,
	}
}

// Create implements escalation.Store.
func (s *EscalationStore) Create(_ context.Context, e escalation.Event) (escalation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = escalation.StatusPending
	}
	s.events[e.ID] = e
	return e, nil
}

// Get implements escalation.Store.
func (s *EscalationStore) Get(_ context.Context, id string) (escalation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return escalation.Event{}, fmt.Errorf("escalation %q: not found", id)
	}
	return e, nil
}

// List implements escalation.Store.
func (s *EscalationStore) List(_ context.Context, f escalation.Filter) ([]escalation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []escalation.Event
	for _, e := range s.events {
		if !f.IncludeAll && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Update implements escalation.Store.
func (s *EscalationStore) Update(_ context.Context, e escalation.Event) (escalation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return escalation.Event{}, fmt.Errorf("escalation %q: not found", e.ID)
	}
	e.UpdatedAt = s.now()
	s.events[e.ID] = e
	return e, nil
}

var _ escalation.Store = (*EscalationStore)(nil)
