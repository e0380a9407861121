package policy

import "context"

// Store is the persistence contract for the Policy Store (C2), covering
// both statically-loaded base policies and dynamically written ones. A
// Store implementation owns uniqueness and versioning; callers never see
// partial writes.
type Store interface {
	// List returns the merged view ordered by policy id: base policies plus
	// dynamic ones, with any dynamic entry sharing an id overriding its base
	// counterpart. When
	// activeOnly is true, inactive policies are omitted.
	List(ctx context.Context, activeOnly bool) ([]Policy, error)
	// Get returns the single merged policy for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Policy, error)
	// Create validates spec, assigns Origin=dynamic, writes the first
	// Version, and returns the stored Policy. Returns ErrConflict if id
	// already has a dynamic entry, ErrInvalidPolicy if a regex is malformed.
	Create(ctx context.Context, spec Spec, actorID string) (Policy, error)
	// Patch applies a partial update, re-validates, and appends a Version.
	Patch(ctx context.Context, id string, p Patch, actorID string) (Policy, error)
	// Toggle flips Active and appends a Version.
	Toggle(ctx context.Context, id string, actorID string) (Policy, error)
	// Delete removes a dynamic policy. Base policies cannot be deleted,
	// only overridden or toggled off.
	Delete(ctx context.Context, id string, actorID string) error
	// Versions returns the append-only version history for id, oldest first.
	Versions(ctx context.Context, id string) ([]Version, error)
	// Restore writes a new Version whose body equals version n's snapshot;
	// history is never mutated.
	Restore(ctx context.Context, id string, version int, actorID string) (Policy, error)
	// LoadBaseFile parses a YAML document of base Policy entries and loads
	// them as Origin=base, bypassing versioning (spec's supplemented
	// static-file import feature).
	LoadBaseFile(ctx context.Context, path string) error
}

// Cache is the TTL-cached, copy-on-write read path in front of a Store,
// serving the hot evaluate-path lookups the Pipeline Orchestrator performs
// on every request (spec §4.2 Cache).
type Cache interface {
	// Snapshot returns the current merged policy list, refreshing from the
	// backing Store if the TTL has elapsed. degraded is true when a
	// refresh failed and a stale snapshot was served instead.
	Snapshot(ctx context.Context) (policies []Policy, degraded bool, err error)
	// Invalidate forces the next Snapshot call to refresh synchronously.
	Invalidate()
}
