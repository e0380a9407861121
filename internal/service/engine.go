package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runtimegov/governor/internal/adapter/outbound/eventbus"
	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/chain"
	"github.com/runtimegov/governor/internal/domain/escalation"
	"github.com/runtimegov/governor/internal/domain/governor"
	"github.com/runtimegov/governor/internal/domain/normalize"
	"github.com/runtimegov/governor/internal/domain/policy"
	"github.com/runtimegov/governor/internal/domain/risk"
	"github.com/runtimegov/governor/internal/domain/session"
	"github.com/runtimegov/governor/internal/domain/validation"
	"github.com/runtimegov/governor/internal/domain/verification"
	"github.com/runtimegov/governor/internal/domain/wallet"
	"github.com/runtimegov/governor/pkg/attestation"
)

// killSwitchRisk, injectionRisk, and scopeRisk are the fixed risk scores a
// short-circuiting layer assigns (spec §4.7 steps 1-3).
const (
	killSwitchRisk = 100
	injectionRisk  = 95
	scopeRisk      = 90
)

// policyBlockFloor is the minimum risk a policy-engine block carries, even
// when no matched policy's severity maps above it (spec §4.7 step 4: "risk
// ≥ 85").
const policyBlockFloor = 85

// EngineConfig holds the Pipeline Orchestrator's optional behaviors (spec
// §6 Configuration).
type EngineConfig struct {
	// FeesEnabled turns on wallet lookup and deduction (C12).
	FeesEnabled bool
	// Allowlist holds internal domains exempt from the risk estimator's
	// network-exfil bonus (spec §4.3).
	Allowlist []string
}

// Engine implements the Pipeline Orchestrator (C7): the six-layer
// evaluation sequence described in spec §4.7, wired against the concrete
// domain components it depends on. It also exposes Verify as a thin
// passthrough to the Verification Engine (C8), since both share the same
// caller-facing surface (spec §6).
type Engine struct {
	sanitizer     *validation.Sanitizer
	scanner       *action.ResponseScanner
	killSwitch    *governor.KillSwitch
	policyCache   policy.Cache
	sessions      *session.Store
	chainAnalyzer *chain.Analyzer
	auditStore    audit.Store
	bus           *eventbus.Bus
	escalations   *escalation.Engine
	wallets       wallet.Store
	verification  *verification.Engine

	feesEnabled bool
	allowlist   []string

	logger *slog.Logger
	now    func() time.Time
}

// NewEngine constructs the Pipeline Orchestrator. wallets may be nil when
// cfg.FeesEnabled is false; verificationEngine may be nil if the caller
// never invokes Verify through this Engine.
func NewEngine(
	killSwitch *governor.KillSwitch,
	policyCache policy.Cache,
	sessions *session.Store,
	chainAnalyzer *chain.Analyzer,
	auditStore audit.Store,
	bus *eventbus.Bus,
	escalations *escalation.Engine,
	wallets wallet.Store,
	verificationEngine *verification.Engine,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		sanitizer:     validation.NewSanitizer(),
		scanner:       action.NewResponseScanner(),
		killSwitch:    killSwitch,
		policyCache:   policyCache,
		sessions:      sessions,
		chainAnalyzer: chainAnalyzer,
		auditStore:    auditStore,
		bus:           bus,
		escalations:   escalations,
		wallets:       wallets,
		verification:  verificationEngine,
		feesEnabled:   cfg.FeesEnabled,
		allowlist:     cfg.Allowlist,
		logger:        logger,
		now:           time.Now,
	}
}

// Evaluate runs the six-layer pipeline against req and returns the
// resulting decision (spec §4.7). The only caller-facing errors are
// invalid_input (malformed request), timeout (caller deadline expired
// mid-pipeline), and persistence_failed (the audit write itself failed);
// every other failure mode degrades gracefully and is recorded in the
// trace or the response's Degraded/PaymentRequired flags.
func (e *Engine) Evaluate(ctx context.Context, req action.Request) (result action.Result, err error) {
	ctx, finishSpan := startEvaluateSpan(ctx, req)
	defer func() { finishSpan(&result, err) }()

	sanitizedArgs, err := e.sanitizer.SanitizeRequest(req.Tool, req.Args)
	if err != nil {
		return action.Result{}, fmt.Errorf("invalid_input: %w", err)
	}
	norm := normalize.Normalize(req.Tool, sanitizedArgs)

	a := action.Action{
		Timestamp:      e.now(),
		AgentID:        req.Context.AgentID,
		SessionID:      req.Context.SessionID,
		UserID:         req.Context.UserID,
		Tool:           req.Tool,
		Args:           sanitizedArgs,
		FlattenedArgs:  norm.Flattened,
		Fingerprint:    norm.Fingerprint,
		TraceID:        req.Context.TraceID,
		SpanID:         req.Context.SpanID,
		ConversationID: req.Context.ConversationID,
	}

	var trace []action.TraceStep
	degraded := false

	// Layer 1: kill switch.
	layerCtx, endLayerSpan := startLayerSpan(ctx, "kill_switch")
	step, blocked := e.layerKillSwitch(layerCtx)
	endLayerSpan()
	trace = append(trace, step)
	if blocked {
		return e.finalize(ctx, a, trace, action.DecisionBlock, killSwitchRisk, nil, "", degraded, false)
	}
	if ctx.Err() != nil {
		return action.Result{}, fmt.Errorf("timeout: %w", ctx.Err())
	}

	// Fee provisioning happens once layer 1 clears, ahead of layers 2-5
	// (spec §4.12), but never blocks or fails the call.
	if e.feesEnabled && e.wallets != nil {
		if _, err := e.wallets.GetOrCreate(ctx, a.AgentID); err != nil {
			e.logger.Warn("wallet auto-provisioning failed", "agent_id", a.AgentID, "error", err)
		}
	}

	// Layer 2: injection firewall.
	_, endLayerSpan = startLayerSpan(ctx, "injection_firewall")
	step, blocked = e.layerInjectionFirewall(norm.Flattened)
	endLayerSpan()
	trace = append(trace, step)
	if blocked {
		return e.finalize(ctx, a, trace, action.DecisionBlock, injectionRisk, nil, "", degraded, false)
	}
	if ctx.Err() != nil {
		return action.Result{}, fmt.Errorf("timeout: %w", ctx.Err())
	}

	// Layer 3: scope enforcer.
	_, endLayerSpan = startLayerSpan(ctx, "scope_enforcer")
	step, blocked = e.layerScope(req.Tool, req.Context.AllowedTools)
	endLayerSpan()
	trace = append(trace, step)
	if blocked {
		return e.finalize(ctx, a, trace, action.DecisionBlock, scopeRisk, nil, "", degraded, false)
	}
	if ctx.Err() != nil {
		return action.Result{}, fmt.Errorf("timeout: %w", ctx.Err())
	}

	// Layer 4: policy engine.
	layerCtx, endLayerSpan = startLayerSpan(ctx, "policy_engine")
	step, tentative, policyIDs, policyRisk, policyDegraded := e.layerPolicy(layerCtx, req.Tool, norm.Flattened, sanitizedArgs)
	endLayerSpan()
	trace = append(trace, step)
	degraded = degraded || policyDegraded
	if tentative == action.DecisionBlock {
		return e.finalize(ctx, a, trace, action.DecisionBlock, policyRisk, policyIDs, "", degraded, false)
	}
	if ctx.Err() != nil {
		return action.Result{}, fmt.Errorf("timeout: %w", ctx.Err())
	}

	// Layer 5: risk + chain.
	layerCtx, endLayerSpan = startLayerSpan(ctx, "risk_chain")
	step, finalRisk, finalDecision, chainPattern, chainDegraded := e.layerRiskChain(
		layerCtx, req.Tool, norm, sanitizedArgs, a.AgentID, a.SessionID, tentative)
	endLayerSpan()
	trace = append(trace, step)
	degraded = degraded || chainDegraded
	if ctx.Err() != nil {
		return action.Result{}, fmt.Errorf("timeout: %w", ctx.Err())
	}

	// Layer 6: finalize. chargeFee=true only here — fee deduction requires
	// the final, post-chain risk (spec §4.12), which layer 5 just computed.
	return e.finalize(ctx, a, trace, finalDecision, finalRisk, policyIDs, chainPattern, degraded, true)
}

func (e *Engine) layerKillSwitch(ctx context.Context) (action.TraceStep, bool) {
	t0 := e.now()
	engaged := e.killSwitch.Engaged(ctx)
	step := action.TraceStep{Layer: 1, Name: "kill_switch", DurationMS: msSince(e.now(), t0)}
	if engaged {
		step.Outcome = action.OutcomeBlock
		step.RiskContribution = killSwitchRisk
		step.Detail = "kill switch engaged"
		return step, true
	}
	step.Outcome = action.OutcomePass
	return step, false
}

func (e *Engine) layerInjectionFirewall(flattened string) (action.TraceStep, bool) {
	t0 := e.now()
	result := e.scanner.Scan(flattened)
	step := action.TraceStep{Layer: 2, Name: "injection_firewall", DurationMS: msSince(e.now(), t0)}
	if result.Detected {
		ids := make([]string, 0, len(result.Findings))
		for _, f := range result.Findings {
			ids = append(ids, f.PatternName)
		}
		step.Outcome = action.OutcomeBlock
		step.RiskContribution = injectionRisk
		step.MatchedIDs = ids
		step.Detail = fmt.Sprintf("%d injection pattern(s) matched", len(result.Findings))
		return step, true
	}
	step.Outcome = action.OutcomePass
	return step, false
}

func (e *Engine) layerScope(tool string, allowed []string) (action.TraceStep, bool) {
	t0 := e.now()
	step := action.TraceStep{Layer: 3, Name: "scope_enforcer"}
	if len(allowed) > 0 && !containsString(allowed, tool) {
		step.Outcome = action.OutcomeBlock
		step.RiskContribution = scopeRisk
		step.Detail = "tool not in allowed_tools scope"
		step.DurationMS = msSince(e.now(), t0)
		return step, true
	}
	step.Outcome = action.OutcomePass
	step.DurationMS = msSince(e.now(), t0)
	return step, false
}

// layerPolicy runs the layer-4 policy match. On a policy-cache refresh
// failure it degrades to allow (spec §4.7 Failure semantics) rather than
// blocking on infrastructure trouble.
func (e *Engine) layerPolicy(ctx context.Context, tool, flattened string, args map[string]interface{}) (action.TraceStep, action.Decision, []string, int, bool) {
	t0 := e.now()
	step := action.TraceStep{Layer: 4, Name: "policy_engine"}

	policies, degraded, err := e.policyCache.Snapshot(ctx)
	if err != nil {
		step.Outcome = action.OutcomePass
		step.Detail = "policy snapshot unavailable: " + err.Error()
		step.DurationMS = msSince(e.now(), t0)
		return step, action.DecisionAllow, nil, 0, true
	}

	in := policy.MatchInput{Tool: tool, FlattenedArgs: flattened, URL: firstDestination(args)}

	var matchedIDs []string
	tentative := action.DecisionAllow
	maxRisk := 0
	for _, p := range policies {
		if !p.Matches(in) {
			continue
		}
		matchedIDs = append(matchedIDs, p.ID)
		if decisionRank(p.Action) > decisionRank(tentative) {
			tentative = p.Action
		}
		if r := policySeverityRisk(p.Severity); r > maxRisk {
			maxRisk = r
		}
	}

	step.DurationMS = msSince(e.now(), t0)
	step.MatchedIDs = matchedIDs
	if degraded {
		step.Detail = "policy cache degraded, served stale snapshot"
	}

	switch tentative {
	case action.DecisionBlock:
		step.Outcome = action.OutcomeBlock
		blockRisk := maxRisk
		if blockRisk < policyBlockFloor {
			blockRisk = policyBlockFloor
		}
		step.RiskContribution = blockRisk
		return step, action.DecisionBlock, matchedIDs, blockRisk, degraded
	case action.DecisionReview:
		step.Outcome = action.OutcomeReview
	default:
		step.Outcome = action.OutcomePass
	}
	return step, tentative, matchedIDs, 0, degraded
}

// layerRiskChain runs layer 5: base risk estimation, session-history
// reconstruction, and chain analysis, combining into the final pre-finalize
// risk and decision (spec §4.7 step 5).
func (e *Engine) layerRiskChain(
	ctx context.Context,
	tool string,
	norm normalize.Result,
	args map[string]interface{},
	agentID, sessionID string,
	tentative action.Decision,
) (action.TraceStep, int, action.Decision, string, bool) {
	t0 := e.now()
	step := action.TraceStep{Layer: 5, Name: "risk_chain"}

	base, detail := risk.Estimate(tool, norm.Flattened, args, e.allowlist)

	history, err := e.sessions.History(ctx, agentID, sessionID)
	if err != nil {
		e.logger.Warn("session history reconstruction failed", "agent_id", agentID, "error", err)
		history = nil
	}

	chainResult := e.chainAnalyzer.Analyze(ctx, history, chain.Current{
		Tool:          tool,
		FlattenedArgs: norm.Flattened,
		Fingerprint:   norm.Fingerprint,
	})

	combined := base + chainResult.Boost
	if combined > 100 {
		combined = 100
	}

	decision := tentative
	if chain.ElevateToReview(tentative == action.DecisionAllow, combined) {
		decision = action.DecisionReview
	}

	step.DurationMS = msSince(e.now(), t0)
	step.RiskContribution = combined
	switch {
	case decision == action.DecisionReview:
		step.Outcome = action.OutcomeReview
	default:
		step.Outcome = action.OutcomePass
	}
	if chainResult.Matched {
		step.MatchedIDs = []string{chainResult.PatternID}
	}

	var parts []string
	if len(detail.Reasons) > 0 {
		parts = append(parts, strings.Join(detail.Reasons, ", "))
	}
	if chainResult.Degraded {
		parts = append(parts, "chain analysis degraded (soft cap exceeded)")
	}
	step.Detail = strings.Join(parts, "; ")

	return step, combined, decision, chainResult.PatternID, chainResult.Degraded
}

// finalize persists the Action, publishes it, deducts the fee (when
// chargeFee is true and fees are enabled), links a receipt, and evaluates
// escalation thresholds (spec §4.7 step 6, §4.9, §4.10, §4.11, §4.12).
func (e *Engine) finalize(
	ctx context.Context,
	a action.Action,
	trace []action.TraceStep,
	decision action.Decision,
	riskScore int,
	policyIDs []string,
	chainPattern string,
	degraded bool,
	chargeFee bool,
) (action.Result, error) {
	ctx, endLayerSpan := startLayerSpan(ctx, "finalize")
	defer endLayerSpan()

	a.Decision = decision
	a.Risk = riskScore
	a.PolicyIDs = policyIDs
	a.ChainPattern = chainPattern
	a.Trace = trace
	a.Degraded = degraded

	id, err := e.auditStore.Append(ctx, a)
	if err != nil {
		return action.Result{}, fmt.Errorf("persistence_failed: %w", err)
	}
	a.ID = id

	e.bus.Publish(eventbus.Event{Kind: "action_evaluated", Payload: a, Timestamp: e.now()})

	result := action.Result{
		ActionID:       id,
		Decision:       decision,
		RiskScore:      riskScore,
		Explanation:    explain(trace),
		PolicyIDs:      policyIDs,
		ChainPattern:   chainPattern,
		ExecutionTrace: trace,
		Degraded:       degraded,
	}

	feeAmount := "0.000"
	if chargeFee && e.feesEnabled && e.wallets != nil {
		_, fee := wallet.TierForRisk(riskScore)
		if _, err := e.wallets.Deduct(ctx, a.AgentID, fee); err != nil {
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				result.PaymentRequired = true
			} else {
				e.logger.Warn("wallet deduction failed", "agent_id", a.AgentID, "error", err)
			}
		} else {
			feeAmount = fee.String()
			a.FeeCharged = feeAmount
		}
	}

	receipt := attestation.Receipt{
		ActionID:  id,
		Hash:      attestation.Compute(a),
		FeeTier:   attestation.TierForRisk(riskScore),
		FeeAmount: feeAmount,
	}
	if err := e.auditStore.AppendReceipt(ctx, receipt); err != nil {
		e.logger.Error("receipt persistence failed", "action_id", id, "error", err)
	}

	if e.escalations != nil {
		if err := e.escalations.Evaluate(ctx, a); err != nil {
			e.logger.Warn("escalation evaluation failed", "action_id", id, "error", err)
		}
	}

	return result, nil
}

// Verify runs the Verification Engine (C8) against a reported tool result
// (spec §6 Verify: "Verify(action_id, tool, result, diff, context)"). The
// Action is resolved from the audit store by actionID, not trusted from
// the caller.
func (e *Engine) Verify(ctx context.Context, actionID, output, diff string) (verification.VerificationLog, error) {
	return e.verification.Verify(ctx, actionID, output, diff)
}

func explain(trace []action.TraceStep) string {
	if len(trace) == 0 {
		return ""
	}
	last := trace[len(trace)-1]
	if last.Detail != "" {
		return fmt.Sprintf("%s: %s", last.Name, last.Detail)
	}
	return fmt.Sprintf("%s: %s", last.Name, last.Outcome)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func decisionRank(d action.Decision) int {
	switch d {
	case action.DecisionBlock:
		return 3
	case action.DecisionReview:
		return 2
	default:
		return 1
	}
}

// policySeverityRisk maps a matched policy's declared severity to the risk
// score a policy-engine block carries, floored at policyBlockFloor by the
// caller (spec §4.7 step 4: "risk ≥ 85").
func policySeverityRisk(sev policy.Severity) int {
	switch sev {
	case policy.SeverityCritical:
		return 100
	case policy.SeverityHigh:
		return 95
	case policy.SeverityMedium:
		return 90
	default:
		return policyBlockFloor
	}
}

// firstDestination extracts the URL a policy's url_regex matches against:
// the args.url scalar by convention (spec §4.2), falling back to the first
// URL-like destination the argument tree contains.
func firstDestination(args map[string]interface{}) string {
	if v, ok := args["url"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	dests := action.Destinations(args)
	if len(dests) > 0 {
		return dests[0]
	}
	return ""
}

func msSince(now, start time.Time) float64 {
	return float64(now.Sub(start)) / float64(time.Millisecond)
}
