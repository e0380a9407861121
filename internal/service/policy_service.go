// Package service wires domain components into the application-level
// behaviors the Pipeline Orchestrator and CLI depend on.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runtimegov/governor/internal/domain/policy"
)

// policySnapshot is the immutable value published through atomic.Value.
type policySnapshot struct {
	policies  []policy.Policy
	loadedAt  time.Time
	degraded  bool
}

// PolicyCache implements policy.Cache as a copy-on-write TTL snapshot in
// front of a policy.Store: readers load the current snapshot pointer
// (lock-free), writers replace it atomically after a successful refresh
// (spec §4.2 Cache, §5 Locks & transactions). A TTL of 0 disables caching,
// forcing a synchronous refresh on every Snapshot call — used in tests.
type PolicyCache struct {
	store    policy.Store
	ttl      time.Duration
	snapshot atomic.Value // holds *policySnapshot
	mu       sync.Mutex   // serializes refreshes
	logger   *slog.Logger
	clock    func() time.Time
}

// NewPolicyCache constructs a PolicyCache and performs an initial load.
func NewPolicyCache(ctx context.Context, store policy.Store, ttl time.Duration, logger *slog.Logger) (*PolicyCache, error) {
	c := &PolicyCache{
		store:  store,
		ttl:    ttl,
		logger: logger,
		clock:  time.Now,
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial policy load: %w", err)
	}
	return c, nil
}

// Snapshot returns the merged policy list, refreshing if the TTL elapsed.
// On refresh failure it serves the last good snapshot and reports degraded.
func (c *PolicyCache) Snapshot(ctx context.Context) ([]policy.Policy, bool, error) {
	cur := c.current()
	if cur != nil && c.ttl > 0 && c.clock().Sub(cur.loadedAt) < c.ttl {
		return cur.policies, false, nil
	}
	if c.ttl == 0 {
		if err := c.refresh(ctx); err != nil {
			if cur == nil {
				return nil, true, err
			}
			c.logger.Warn("policy cache refresh failed, serving stale snapshot", "error", err)
			return cur.policies, true, nil
		}
		return c.current().policies, false, nil
	}

	if err := c.refresh(ctx); err != nil {
		if cur == nil {
			return nil, true, err
		}
		c.logger.Warn("policy cache refresh failed, serving stale snapshot", "error", err)
		return cur.policies, true, nil
	}
	return c.current().policies, false, nil
}

// Invalidate forces the next Snapshot call to refresh synchronously.
func (c *PolicyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.current()
	if cur == nil {
		return
	}
	c.snapshot.Store(&policySnapshot{policies: cur.policies, loadedAt: time.Time{}, degraded: cur.degraded})
}

func (c *PolicyCache) current() *policySnapshot {
	v := c.snapshot.Load()
	if v == nil {
		return nil
	}
	return v.(*policySnapshot)
}

func (c *PolicyCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under lock: another goroutine may have refreshed already.
	if cur := c.current(); cur != nil && c.ttl > 0 && c.clock().Sub(cur.loadedAt) < c.ttl {
		return nil
	}

	policies, err := c.store.List(ctx, false)
	if err != nil {
		return err
	}
	c.snapshot.Store(&policySnapshot{policies: policies, loadedAt: c.clock()})
	return nil
}

var _ policy.Cache = (*PolicyCache)(nil)
