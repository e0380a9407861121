// Package sqlite provides a SQLite-backed audit.Store (spec §4.9, §6
// audit.backend="sqlite"), the indexed alternative to the in-memory ring
// buffer for deployments that want session-history and drift-baseline
// queries to survive a process restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/pkg/attestation"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id              TEXT PRIMARY KEY,
	timestamp       TEXT NOT NULL,
	agent_id        TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	tool            TEXT NOT NULL,
	args            TEXT NOT NULL,
	flattened_args  TEXT NOT NULL,
	fingerprint     INTEGER NOT NULL,
	decision        TEXT NOT NULL,
	risk            INTEGER NOT NULL,
	policy_ids      TEXT NOT NULL,
	chain_pattern   TEXT NOT NULL,
	trace           TEXT NOT NULL,
	trace_id        TEXT NOT NULL,
	span_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	fee_charged     TEXT NOT NULL,
	degraded        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_agent_ts ON actions(agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id);

CREATE TABLE IF NOT EXISTS receipts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id  TEXT NOT NULL UNIQUE,
	hash       TEXT NOT NULL,
	fee_tier   TEXT NOT NULL,
	fee_amount TEXT NOT NULL
);
`

// AuditStore implements audit.Store against a SQLite database file. Every
// method opens its own statement against the shared *sql.DB; SQLite's own
// file locking serializes concurrent writers, matching the single-node
// deployment assumption spec §1's Non-goals carry forward.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (creating if absent) the SQLite database at dsn and
// applies the audit schema.
func NewAuditStore(dsn string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *DB handle.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Append implements audit.Store.
func (s *AuditStore) Append(ctx context.Context, a action.Action) (string, error) {
	if a.ID == "" {
		a.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}

	args, err := json.Marshal(a.Args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	policyIDs, err := json.Marshal(a.PolicyIDs)
	if err != nil {
		return "", fmt.Errorf("marshal policy ids: %w", err)
	}
	trace, err := json.Marshal(a.Trace)
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (
			id, timestamp, agent_id, session_id, user_id, tool, args,
			flattened_args, fingerprint, decision, risk, policy_ids,
			chain_pattern, trace, trace_id, span_id, conversation_id,
			fee_charged, degraded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UTC().Format(time.RFC3339Nano), a.AgentID, a.SessionID,
		a.UserID, a.Tool, string(args), a.FlattenedArgs, a.Fingerprint,
		string(a.Decision), a.Risk, string(policyIDs), a.ChainPattern,
		string(trace), a.TraceID, a.SpanID, a.ConversationID, a.FeeCharged, a.Degraded,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", audit.ErrPersistenceFailed, err)
	}
	return a.ID, nil
}

// Get implements audit.Store.
func (s *AuditStore) Get(ctx context.Context, id string) (action.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return action.Action{}, audit.ErrNotFound
		}
		return action.Action{}, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// Query implements audit.Store.
func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]action.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE 1=1`
	var params []interface{}

	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		params = append(params, f.AgentID)
	}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		params = append(params, f.SessionID)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		params = append(params, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		params = append(params, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendReceipt implements audit.Store.
func (s *AuditStore) AppendReceipt(ctx context.Context, r attestation.Receipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (action_id, hash, fee_tier, fee_amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET hash = excluded.hash, fee_tier = excluded.fee_tier, fee_amount = excluded.fee_amount`,
		r.ActionID, r.Hash, string(r.FeeTier), r.FeeAmount,
	)
	if err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	return nil
}

// ReceiptFor implements audit.Store.
func (s *AuditStore) ReceiptFor(ctx context.Context, actionID string) (attestation.Receipt, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, action_id, hash, fee_tier, fee_amount FROM receipts WHERE action_id = ?`, actionID)

	var r attestation.Receipt
	var feeTier string
	if err := row.Scan(&r.ID, &r.ActionID, &r.Hash, &feeTier, &r.FeeAmount); err != nil {
		if err == sql.ErrNoRows {
			return attestation.Receipt{}, false, nil
		}
		return attestation.Receipt{}, false, fmt.Errorf("receipt for: %w", err)
	}
	r.FeeTier = attestation.FeeTier(feeTier)
	return r, true, nil
}

const actionColumns = `id, timestamp, agent_id, session_id, user_id, tool, args,
	flattened_args, fingerprint, decision, risk, policy_ids, chain_pattern,
	trace, trace_id, span_id, conversation_id, fee_charged, degraded`

// scanner abstracts over *sql.Row and *sql.Rows for scanAction.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row scanner) (action.Action, error) {
	var a action.Action
	var ts string
	var args, policyIDs, trace string
	var decision string

	err := row.Scan(
		&a.ID, &ts, &a.AgentID, &a.SessionID, &a.UserID, &a.Tool, &args,
		&a.FlattenedArgs, &a.Fingerprint, &decision, &a.Risk, &policyIDs,
		&a.ChainPattern, &trace, &a.TraceID, &a.SpanID, &a.ConversationID,
		&a.FeeCharged, &a.Degraded,
	)
	if err != nil {
		return action.Action{}, err
	}

	a.Decision = action.Decision(decision)
	a.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return action.Action{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &a.Args); err != nil {
		return action.Action{}, fmt.Errorf("unmarshal args: %w", err)
	}
	if err := json.Unmarshal([]byte(policyIDs), &a.PolicyIDs); err != nil {
		return action.Action{}, fmt.Errorf("unmarshal policy ids: %w", err)
	}
	if err := json.Unmarshal([]byte(trace), &a.Trace); err != nil {
		return action.Action{}, fmt.Errorf("unmarshal trace: %w", err)
	}
	return a, nil
}

var _ audit.Store = (*AuditStore)(nil)
