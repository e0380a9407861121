package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// KillSwitch is a single process-wide flag (spec §4.6): reads are served
// from a volatile in-memory cache; writes are serialized by a mutex and
// persisted to a StateStore. On store error, the volatile value is kept as
// the durable fallback — the spec's required degrade-gracefully behavior
// for a flag whose correctness matters more than any individual write's
// durability.
type KillSwitch struct {
	mu      sync.Mutex
	engaged bool
	loaded  bool
	store   StateStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewKillSwitch constructs a KillSwitch backed by store.
func NewKillSwitch(store StateStore, logger *slog.Logger) *KillSwitch {
	return &KillSwitch{store: store, logger: logger, now: time.Now}
}

// Engaged reports the current cached state, loading it from the store on
// first use. A store error leaves the volatile default (false) in place
// and is logged, never returned — a read must never fail the hot path.
func (k *KillSwitch) Engaged(ctx context.Context) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.loaded {
		return k.engaged
	}
	k.loaded = true
	entry, ok, err := k.store.Get(ctx, KillSwitchKey)
	if err != nil {
		k.logger.Warn("kill switch state load failed, defaulting to released", "error", err)
		return k.engaged
	}
	if ok {
		k.engaged = entry.Value == "true"
	}
	return k.engaged
}

// Engage sets the kill switch. Repeated calls are idempotent: the state
// stays engaged, only the timestamp/actor of the Entry may change (spec §8
// idempotence property).
func (k *KillSwitch) Engage(ctx context.Context, actorID string) error {
	return k.set(ctx, true, actorID)
}

// Release clears the kill switch.
func (k *KillSwitch) Release(ctx context.Context, actorID string) error {
	return k.set(ctx, false, actorID)
}

func (k *KillSwitch) set(ctx context.Context, value bool, actorID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	val := "false"
	if value {
		val = "true"
	}
	_, err := k.store.Set(ctx, KillSwitchKey, val, actorID)
	// Volatile value updates even on a store write failure: the in-memory
	// cache is the fallback of record (spec §4.6), so a caller that just
	// engaged the switch must see it engaged regardless of durability.
	k.engaged = value
	k.loaded = true
	if err != nil {
		k.logger.Error("kill switch persistence failed, volatile state updated", "error", err, "engaged", value)
		return err
	}
	if value {
		k.logger.Info("kill switch engaged", "actor", actorID)
	} else {
		k.logger.Info("kill switch released", "actor", actorID)
	}
	return nil
}
