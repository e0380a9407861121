// Package session implements the Session Store (C4): reconstructing the
// rolling per-agent/session action history that the Chain Analyzer and the
// Verification Engine's drift-detection check evaluate against. History is
// derived, never stored (spec §3 SessionHistory) — this package only
// queries the Audit & Attestation log.
package session

import (
	"context"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
)

// Window is the spec §4.4 default wall-clock lookback.
const Window = 60 * time.Minute

// MaxEntries is the spec §4.4 cap on returned actions.
const MaxEntries = 50

// Store reconstructs SessionHistory from the append-only audit log.
type Store struct {
	audit audit.Store
	now   func() time.Time
}

// NewStore constructs a Store backed by an audit.Store.
func NewStore(auditStore audit.Store) *Store {
	return &Store{audit: auditStore, now: time.Now}
}

// History returns the last <=MaxEntries actions for (agentID, sessionID)
// within the last Window, ordered oldest-first. If sessionID is empty, only
// agentID scopes the query (spec §4.4).
func (s *Store) History(ctx context.Context, agentID, sessionID string) ([]action.Action, error) {
	f := audit.Filter{
		AgentID:   agentID,
		SessionID: sessionID,
		Since:     s.now().Add(-Window),
		Limit:     MaxEntries,
	}
	return s.audit.Query(ctx, f)
}
