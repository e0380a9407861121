// Package governor implements the Kill Switch (C6) and the GovernorState
// key-value store it is persisted under (spec §3 GovernorState).
package governor

import (
	"context"
	"time"
)

// KillSwitchKey is the well-known GovernorState key the kill switch is
// persisted under (spec §4.6).
const KillSwitchKey = "kill_switch_engaged"

// Entry is one GovernorState key's value plus its write provenance.
type Entry struct {
	Key        string
	Value      string
	ModifiedAt time.Time
	ActorID    string
}

// StateStore is the persistence port for process-wide flags (spec §3
// GovernorState: "each key has a last-modified timestamp and actor").
type StateStore interface {
	// Get returns the entry for key, or ok=false if unset.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set writes key=value under actorID, recording the write time.
	Set(ctx context.Context, key, value, actorID string) (Entry, error)
}
