// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/pkg/attestation"
)

const defaultRecentCap = 10000

// AuditStore implements audit.Store with a bounded in-memory ring buffer,
// suitable for development and the default single-node deployment (spec §1
// Non-goals: single-node store assumed). A SQLite-backed alternative lives
// in adapter/outbound/sqlite for indexed session-history queries.
type AuditStore struct {
	mu        sync.Mutex
	actions   []action.Action // ring buffer, oldest first
	byID      map[string]int  // id -> index into actions, valid only until eviction
	cap       int
	receipts  map[string]attestation.Receipt
	nextRecID int64
}

// NewAuditStore creates an empty audit store with the given ring-buffer
// capacity (default 10000 when capacity <= 0).
func NewAuditStore(capacity ...int) *AuditStore {
	c := defaultRecentCap
	if len(capacity) > 0 && capacity[0] > 0 {
		c = capacity[0]
	}
	return &AuditStore{
		actions:  make([]action.Action, 0, c),
		byID:     make(map[string]int),
		cap:      c,
		receipts: make(map[string]attestation.Receipt),
	}
}

// Append assigns a unique id (if a.ID is empty) and persists a.
func (s *AuditStore) Append(_ context.Context, a action.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	if len(s.actions) >= s.cap {
		s.actions = append(s.actions[1:], a)
		s.reindexLocked()
	} else {
		s.actions = append(s.actions, a)
		s.byID[a.ID] = len(s.actions) - 1
	}
	return a.ID, nil
}

func (s *AuditStore) reindexLocked() {
	s.byID = make(map[string]int, len(s.actions))
	for i, a := range s.actions {
		s.byID[a.ID] = i
	}
}

// Get returns the persisted Action for id.
func (s *AuditStore) Get(_ context.Context, id string) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return action.Action{}, audit.ErrNotFound
	}
	return s.actions[idx], nil
}

// Query returns actions matching f, ordered oldest-first.
func (s *AuditStore) Query(_ context.Context, f audit.Filter) ([]action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []action.Action
	for _, a := range s.actions {
		if f.AgentID != "" && a.AgentID != f.AgentID {
			continue
		}
		if f.SessionID != "" && a.SessionID != f.SessionID {
			continue
		}
		if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, a)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// AppendReceipt stores r, assigning a monotonic id if unset.
func (s *AuditStore) AppendReceipt(_ context.Context, r attestation.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextRecID++
		r.ID = s.nextRecID
	}
	s.receipts[r.ActionID] = r
	return nil
}

// ReceiptFor returns the receipt linked to actionID, if any.
func (s *AuditStore) ReceiptFor(_ context.Context, actionID string) (attestation.Receipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[actionID]
	return r, ok, nil
}

var _ audit.Store = (*AuditStore)(nil)
