package escalation_test

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/escalation"
	"github.com/runtimegov/governor/internal/domain/governor"
)

func newTestEngine(t *testing.T) (*escalation.Engine, *memory.AuditStore, *memory.EscalationStore, *governor.KillSwitch) {
	t.Helper()
	auditStore := memory.NewAuditStore()
	escStore := memory.NewEscalationStore()
	stateStore := memory.NewStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ks := governor.NewKillSwitch(stateStore, logger)
	eng := escalation.NewEngine(escStore, auditStore, ks, nil, time.Hour, logger)
	return eng, auditStore, escStore, ks
}

func TestEngine_RepeatedBlocksAutoEngagesKillSwitch(t *testing.T) {
	ctx := context.Background()
	eng, auditStore, escStore, ks := newTestEngine(t)

	for i := 0; i < 3; i++ {
		a := action.Action{ID: "a" + string(rune('0'+i)), AgentID: "agent-1", Decision: action.DecisionBlock, Risk: 90}
		if _, err := auditStore.Append(ctx, a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	last := action.Action{ID: "final", AgentID: "agent-1", Decision: action.DecisionBlock, Risk: 90}
	if _, err := auditStore.Append(ctx, last); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := eng.Evaluate(ctx, last); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ks.Engaged(ctx) {
		t.Error("expected kill switch to be auto-engaged after repeated blocks")
	}

	events, err := escStore.List(ctx, escalation.Filter{IncludeAll: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].Severity != escalation.SeverityCritical {
		t.Errorf("expected one critical escalation, got %+v", events)
	}
}

func TestEngine_SingleBlockOpensPendingEscalation(t *testing.T) {
	ctx := context.Background()
	eng, _, escStore, ks := newTestEngine(t)

	a := action.Action{ID: "one", AgentID: "agent-2", Decision: action.DecisionBlock, Risk: 55}
	if err := eng.Evaluate(ctx, a); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ks.Engaged(ctx) {
		t.Error("did not expect kill switch engaged from a single block")
	}
	events, err := escStore.List(ctx, escalation.Filter{Status: escalation.StatusPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one pending escalation, got %d", len(events))
	}
	if events[0].Severity != escalation.SeverityMedium {
		t.Errorf("severity = %s, want medium for risk 55", events[0].Severity)
	}
}

func TestEngine_AllowDoesNotEscalate(t *testing.T) {
	ctx := context.Background()
	eng, _, escStore, _ := newTestEngine(t)

	a := action.Action{ID: "allowed", AgentID: "agent-3", Decision: action.DecisionAllow, Risk: 5}
	if err := eng.Evaluate(ctx, a); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	events, err := escStore.List(ctx, escalation.Filter{IncludeAll: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no escalations for an allow decision, got %d", len(events))
	}
}

func TestEngine_ResolveNotifiesAndUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	_, _, escStore, _ := newTestEngine(t)
	stateStore := memory.NewStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ks := governor.NewKillSwitch(stateStore, logger)

	var notified []escalation.Event
	notifier := escalation.NotifierFunc(func(_ context.Context, e escalation.Event) error {
		notified = append(notified, e)
		return nil
	})
	eng := escalation.NewEngine(escStore, memory.NewAuditStore(), ks, notifier, time.Hour, logger)

	a := action.Action{ID: "resolve-me", AgentID: "agent-4", Decision: action.DecisionReview, Risk: 45}
	if err := eng.Evaluate(ctx, a); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	events, err := escStore.List(ctx, escalation.Filter{IncludeAll: true})
	if err != nil || len(events) != 1 {
		t.Fatalf("List: %v, %+v", err, events)
	}

	updated, err := eng.Resolve(ctx, events[0].ID, true, "reviewer-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if updated.Status != escalation.StatusApproved {
		t.Errorf("status = %s, want approved", updated.Status)
	}
	if len(notified) != 2 {
		t.Errorf("expected notify on create and resolve, got %d calls", len(notified))
	}
}

func TestEngine_ExpirePendingTransitionsAgedEvents(t *testing.T) {
	ctx := context.Background()
	auditStore := memory.NewAuditStore()
	escStore := memory.NewEscalationStore()
	stateStore := memory.NewStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ks := governor.NewKillSwitch(stateStore, logger)
	eng := escalation.NewEngine(escStore, auditStore, ks, nil, time.Nanosecond, logger)

	a := action.Action{ID: "stale", AgentID: "agent-5", Decision: action.DecisionReview, Risk: 45}
	if err := eng.Evaluate(ctx, a); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	time.Sleep(time.Millisecond)

	n, err := eng.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d events, want 1", n)
	}

	events, err := escStore.List(ctx, escalation.Filter{IncludeAll: true})
	if err != nil || len(events) != 1 {
		t.Fatalf("List: %v, %+v", err, events)
	}
	if events[0].Status != escalation.StatusExpired {
		t.Errorf("status = %s, want expired", events[0].Status)
	}
}

func TestEngine_ExpirePendingLeavesFreshEventsAlone(t *testing.T) {
	ctx := context.Background()
	auditStore := memory.NewAuditStore()
	escStore := memory.NewEscalationStore()
	stateStore := memory.NewStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ks := governor.NewKillSwitch(stateStore, logger)
	eng := escalation.NewEngine(escStore, auditStore, ks, nil, time.Hour, logger)

	a := action.Action{ID: "fresh", AgentID: "agent-6", Decision: action.DecisionReview, Risk: 45}
	if err := eng.Evaluate(ctx, a); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	n, err := eng.ExpirePending(ctx)
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 0 {
		t.Errorf("expired %d events, want 0 for a freshly-opened escalation", n)
	}
}
