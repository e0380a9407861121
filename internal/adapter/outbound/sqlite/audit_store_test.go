package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/pkg/attestation"
)

func openTestStore(t *testing.T) *AuditStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewAuditStore(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuditStore_AppendAndGet_RoundTrips(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a := action.Action{
		ID:            "act-1",
		Timestamp:     time.Now().UTC(),
		AgentID:       "agent-1",
		Tool:          "read_file",
		Args:          map[string]interface{}{"path": "/tmp/x"},
		FlattenedArgs: "path=/tmp/x",
		Decision:      action.DecisionAllow,
		Risk:          12,
		PolicyIDs:     []string{"p1", "p2"},
		Trace: []action.TraceStep{
			{Layer: 1, Name: "kill_switch", Outcome: action.OutcomePass},
		},
	}

	id, err := store.Append(ctx, a)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if id != "act-1" {
		t.Errorf("Append() id = %q, want %q", id, "act-1")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.AgentID != "agent-1" || got.Tool != "read_file" || got.Risk != 12 {
		t.Errorf("Get() = %+v, want AgentID=agent-1 Tool=read_file Risk=12", got)
	}
	if got.Args["path"] != "/tmp/x" {
		t.Errorf("Get().Args = %+v, want path=/tmp/x", got.Args)
	}
	if len(got.PolicyIDs) != 2 || got.PolicyIDs[0] != "p1" {
		t.Errorf("Get().PolicyIDs = %v, want [p1 p2]", got.PolicyIDs)
	}
	if len(got.Trace) != 1 || got.Trace[0].Name != "kill_switch" {
		t.Errorf("Get().Trace = %+v, want one kill_switch step", got.Trace)
	}
}

func TestAuditStore_Get_UnknownID(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != audit.ErrNotFound {
		t.Errorf("Get() error = %v, want %v", err, audit.ErrNotFound)
	}
}

func TestAuditStore_Query_FiltersAndOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()

	mustAppend(t, store, action.Action{ID: "a", AgentID: "agent-1", Timestamp: now.Add(-2 * time.Hour)})
	mustAppend(t, store, action.Action{ID: "b", AgentID: "agent-1", Timestamp: now.Add(-1 * time.Hour)})
	mustAppend(t, store, action.Action{ID: "c", AgentID: "agent-2", Timestamp: now})

	got, err := store.Query(ctx, audit.Filter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Query(AgentID=agent-1) = %+v, want [a b] oldest-first", got)
	}

	got, err = store.Query(ctx, audit.Filter{AgentID: "agent-1", Since: now.Add(-90 * time.Minute)})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("Query(Since=-90m) = %+v, want [b]", got)
	}

	got, err = store.Query(ctx, audit.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Query(Limit=1) returned %d rows, want 1", len(got))
	}
}

func TestAuditStore_AppendReceipt_UpsertsByActionID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustAppend(t, store, action.Action{ID: "act-1", AgentID: "agent-1"})

	if err := store.AppendReceipt(ctx, attestation.Receipt{ActionID: "act-1", Hash: "h1", FeeTier: attestation.FeeTierLow, FeeAmount: "0.001"}); err != nil {
		t.Fatalf("AppendReceipt() error: %v", err)
	}
	if err := store.AppendReceipt(ctx, attestation.Receipt{ActionID: "act-1", Hash: "h2", FeeTier: attestation.FeeTierHigh, FeeAmount: "0.010"}); err != nil {
		t.Fatalf("AppendReceipt() second call error: %v", err)
	}

	r, ok, err := store.ReceiptFor(ctx, "act-1")
	if err != nil {
		t.Fatalf("ReceiptFor() error: %v", err)
	}
	if !ok {
		t.Fatal("ReceiptFor() found = false, want true")
	}
	if r.Hash != "h2" || r.FeeTier != attestation.FeeTierHigh {
		t.Errorf("ReceiptFor() = %+v, want the second write to win (hash=h2, tier=high)", r)
	}
}

func TestAuditStore_ReceiptFor_Unknown(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.ReceiptFor(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ReceiptFor() error: %v", err)
	}
	if ok {
		t.Error("ReceiptFor() found = true, want false")
	}
}

func mustAppend(t *testing.T, store *AuditStore, a action.Action) string {
	t.Helper()
	id, err := store.Append(context.Background(), a)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	return id
}
