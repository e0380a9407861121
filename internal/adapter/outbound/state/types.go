// Package state provides file-based persistence for the GovernorState
// key-value store (spec §3): the durable fallback the Kill Switch (C6)
// and any other process-wide flag are written to.
//
// The state.json file stores a flat map of key -> Entry. This package
// provides atomic writes, file locking, and backup functionality, carried
// over from the teacher's runtime-state persistence discipline.
package state

import "time"

// fileState is the top-level structure persisted in state.json: a flat
// key-value map plus bookkeeping timestamps.
type fileState struct {
	Version   string               `json:"version"`
	Entries   map[string]fileEntry `json:"entries"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// fileEntry is the on-disk shape of a governor.Entry.
type fileEntry struct {
	Value      string    `json:"value"`
	ModifiedAt time.Time `json:"modified_at"`
	ActorID    string    `json:"actor_id"`
}
