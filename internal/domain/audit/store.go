package audit

import (
	"context"
	"errors"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/pkg/attestation"
)

// ErrPersistenceFailed wraps append failures that are fatal to the
// Evaluate call (spec §7 persistence_failed); receipt failures do not wrap
// this, since receipts are advisory attestation, not source of truth.
var ErrPersistenceFailed = errors.New("persistence failed")

// ErrNotFound is returned by Get when id names no persisted Action (spec §7
// not_found), distinct from ErrPersistenceFailed, which signals the write
// path failed rather than a lookup missing.
var ErrNotFound = errors.New("action not found")

// Store is the append-only log the Pipeline Orchestrator writes every
// Action to, and the Verification Engine links VerificationLogs against.
type Store interface {
	// Append assigns a unique id to a, persists it, and returns the id.
	// At-least-once persistence is required; a best-effort in-memory queue
	// may retry (spec §4.7 Failure semantics).
	Append(ctx context.Context, a action.Action) (string, error)
	// Get returns the persisted Action for id, or ErrNotFound.
	Get(ctx context.Context, id string) (action.Action, error)
	// Query returns actions matching f, ordered oldest-first.
	Query(ctx context.Context, f Filter) ([]action.Action, error)
	// AppendReceipt stores r. Failure here does not roll back the Action
	// write (spec §4.9).
	AppendReceipt(ctx context.Context, r attestation.Receipt) error
	// ReceiptFor returns the receipt linked to actionID, if any.
	ReceiptFor(ctx context.Context, actionID string) (attestation.Receipt, bool, error)
}
