// Package audit defines the append-only action log and receipt ledger
// (Audit & Attestation, C9), and the read path the Session Store (C4) and
// Verification Engine's drift-detection check (C8) reconstruct history
// from.
package audit

import "time"

// Filter scopes a Query call. Used both for session-history reconstruction
// (spec §4.4: agent_id + optional session_id, 60-minute window, ≤50
// entries) and for the Verification Engine's rolling per-agent baseline
// (spec §4.8 drift-detection).
type Filter struct {
	AgentID   string
	SessionID string
	// Since bounds the query to actions at or after this timestamp.
	Since time.Time
	// Limit caps the number of returned actions; 0 means unbounded.
	Limit int
}
