package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runtimegov/governor/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map, holding both
// statically-loaded base policies and dynamically written ones plus their
// append-only version history. For development/testing and as the
// reference implementation behind policy.Cache; it is the only
// policy.Store implementation (adapter/outbound/sqlite holds an audit
// store only).
type PolicyStore struct {
	mu       sync.RWMutex
	base     map[string]policy.Policy
	dynamic  map[string]policy.Policy
	versions map[string][]policy.Version
	clock    func() time.Time
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		base:     make(map[string]policy.Policy),
		dynamic:  make(map[string]policy.Policy),
		versions: make(map[string][]policy.Version),
		clock:    time.Now,
	}
}

// WithClock overrides the store's time source, for deterministic tests.
func (s *PolicyStore) WithClock(clock func() time.Time) *PolicyStore {
	s.clock = clock
	return s
}

// List returns the merged view ordered by policy id: base entries,
// overridden by any dynamic entry sharing an id, plus the other dynamic ones.
func (s *PolicyStore) List(_ context.Context, activeOnly bool) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]policy.Policy, len(s.base)+len(s.dynamic))
	for id, p := range s.base {
		merged[id] = p
	}
	for id, p := range s.dynamic {
		merged[id] = p
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]policy.Policy, 0, len(ids))
	for _, id := range ids {
		p := merged[id]
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Get returns the merged policy for id.
func (s *PolicyStore) Get(_ context.Context, id string) (policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.dynamic[id]; ok {
		return p, nil
	}
	if p, ok := s.base[id]; ok {
		return p, nil
	}
	return policy.Policy{}, policy.ErrNotFound
}

// Create validates and stores a new dynamic policy.
func (s *PolicyStore) Create(_ context.Context, spec policy.Spec, actorID string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dynamic[spec.ID]; exists {
		return policy.Policy{}, policy.ErrConflict
	}

	now := s.clock()
	p := policy.Policy{
		ID:          spec.ID,
		Description: spec.Description,
		ToolPattern: spec.ToolPattern,
		Severity:    spec.Severity,
		Action:      spec.Action,
		URLRegex:    spec.URLRegex,
		ArgsRegex:   spec.ArgsRegex,
		Active:      spec.Active,
		Origin:      policy.OriginDynamic,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return policy.Policy{}, err
	}

	s.dynamic[p.ID] = p
	s.appendVersionLocked(p, policy.Policy{}, actorID, now)
	return p, nil
}

// Patch applies a partial update to the dynamic policy with id, creating a
// dynamic override of a base policy on first write.
func (s *PolicyStore) Patch(_ context.Context, id string, patch policy.Patch, actorID string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, ok := s.dynamic[id]
	if !ok {
		b, ok := s.base[id]
		if !ok {
			return policy.Policy{}, policy.ErrNotFound
		}
		before = b
	}

	after := before
	if patch.Description != nil {
		after.Description = *patch.Description
	}
	if patch.ToolPattern != nil {
		after.ToolPattern = *patch.ToolPattern
	}
	if patch.Severity != nil {
		after.Severity = *patch.Severity
	}
	if patch.Action != nil {
		after.Action = *patch.Action
	}
	if patch.URLRegex != nil {
		after.URLRegex = *patch.URLRegex
	}
	if patch.ArgsRegex != nil {
		after.ArgsRegex = *patch.ArgsRegex
	}
	if patch.Active != nil {
		after.Active = *patch.Active
	}
	if err := after.Validate(); err != nil {
		return policy.Policy{}, err
	}

	now := s.clock()
	after.Origin = policy.OriginDynamic
	after.Version = before.Version + 1
	after.UpdatedAt = now

	s.dynamic[id] = after
	s.appendVersionLocked(after, before, actorID, now)
	return after, nil
}

// Toggle flips Active on the policy with id.
func (s *PolicyStore) Toggle(ctx context.Context, id string, actorID string) (policy.Policy, error) {
	active := false
	p, err := s.Get(ctx, id)
	if err != nil {
		return policy.Policy{}, err
	}
	active = !p.Active
	return s.Patch(ctx, id, policy.Patch{Active: &active}, actorID)
}

// Delete removes a dynamic policy. Deleting a base-derived id removes only
// its dynamic override, reverting List to the base entry if one exists.
func (s *PolicyStore) Delete(_ context.Context, id string, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, ok := s.dynamic[id]
	if !ok {
		return policy.ErrNotFound
	}
	delete(s.dynamic, id)
	deleted := policy.Policy{ID: id, Version: before.Version + 1}
	s.appendVersionLocked(deleted, before, actorID, s.clock())
	return nil
}

// Versions returns id's append-only version history, oldest first.
func (s *PolicyStore) Versions(_ context.Context, id string) ([]policy.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.versions[id]
	if !ok {
		return nil, policy.ErrNotFound
	}
	out := make([]policy.Version, len(vs))
	copy(out, vs)
	return out, nil
}

// Restore writes a new version whose body equals version n's snapshot.
func (s *PolicyStore) Restore(_ context.Context, id string, n int, actorID string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs, ok := s.versions[id]
	if !ok || n < 1 || n > len(vs) {
		return policy.Policy{}, policy.ErrNotFound
	}
	before := s.dynamic[id]
	restored := vs[n-1].Snapshot
	restored.Version = before.Version + 1
	restored.UpdatedAt = s.clock()
	restored.Origin = policy.OriginDynamic

	s.dynamic[id] = restored
	s.appendVersionLocked(restored, before, actorID, restored.UpdatedAt)
	return restored, nil
}

// LoadBaseFile parses path as a YAML document of base policy entries and
// loads them as Origin=base. Every entry is validated the same way a
// dynamic write is validated.
func (s *PolicyStore) LoadBaseFile(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read base policy file: %w", err)
	}

	var specs []policy.Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse base policy file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, spec := range specs {
		p := policy.Policy{
			ID:          spec.ID,
			Description: spec.Description,
			ToolPattern: spec.ToolPattern,
			Severity:    spec.Severity,
			Action:      spec.Action,
			URLRegex:    spec.URLRegex,
			ArgsRegex:   spec.ArgsRegex,
			Active:      spec.Active,
			Origin:      policy.OriginBase,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("base policy %s: %w", spec.ID, err)
		}
		s.base[p.ID] = p
	}
	return nil
}

func (s *PolicyStore) appendVersionLocked(after, before policy.Policy, actorID string, ts time.Time) {
	id := after.ID
	if id == "" {
		id = before.ID
	}
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	v := policy.Version{
		PolicyID:  id,
		Version:   after.Version,
		Snapshot:  after,
		Before:    string(beforeJSON),
		After:     string(afterJSON),
		ActorID:   actorID,
		Timestamp: ts,
	}
	s.versions[id] = append(s.versions[id], v)
}

var _ policy.Store = (*PolicyStore)(nil)
