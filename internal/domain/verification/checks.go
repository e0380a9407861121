package verification

import (
	"context"
	"strings"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/normalize"
	"github.com/runtimegov/governor/internal/domain/policy"
	"github.com/runtimegov/governor/internal/domain/risk"
)

// DiffSizeThreshold is the default maximum tolerated coerced-diff size, in
// bytes, before diff-size contributes a score delta (spec §4.8).
const DiffSizeThreshold = 10 * 1024 // 10 KiB

// DriftFailThreshold is the rolling-baseline deviation score at or above
// which drift-detection fails (spec §4.8).
const DriftFailThreshold = 50

// scanner is shared by credential/destructive/injection checks; the
// taxonomy is compiled once and reused, mirroring the pipeline's own
// injection-firewall instance.
var scanner = action.NewResponseScanner()

// CredentialScan fails when the tool's reported output itself contains a
// credential-shaped token — a tool that was allowed to run but whose result
// leaks a secret is still a finding (spec §4.8).
func CredentialScan(_ context.Context, in Input) CheckResult {
	if risk.HasCredentialKeyword(strings.ToLower(in.Output)) {
		return CheckResult{Name: "credential-scan", Failed: true, Delta: 40, Detail: "output contains a credential-shaped token"}
	}
	return CheckResult{Name: "credential-scan"}
}

// DestructiveOutput fails when the output describes a destructive operation
// the request itself didn't already disclose (e.g. a tool silently reporting
// a wipe/delete beyond what was requested).
func DestructiveOutput(_ context.Context, in Input) CheckResult {
	outputLower := strings.ToLower(in.Output)
	argsLower := strings.ToLower(in.Action.FlattenedArgs)
	if risk.HasDestructiveKeyword(outputLower) && !risk.HasDestructiveKeyword(argsLower) {
		return CheckResult{Name: "destructive-output", Failed: true, Delta: 40, Detail: "output reports a destructive operation not present in the request"}
	}
	return CheckResult{Name: "destructive-output"}
}

// ScopeCompliance fails when the output references a network destination
// that wasn't among the destinations the original request declared — a
// tool that wrote somewhere other than its declared target (spec §4.8).
func ScopeCompliance(_ context.Context, in Input) CheckResult {
	declared := make(map[string]bool)
	for _, d := range action.Destinations(in.Action.Args) {
		declared[d] = true
	}
	for _, d := range action.Destinations(map[string]interface{}{"output": in.Output}) {
		if !declared[d] {
			return CheckResult{Name: "scope-compliance", Failed: true, Delta: 30, Detail: "output references undeclared destination " + d}
		}
	}
	return CheckResult{Name: "scope-compliance"}
}

// DiffSize fails when the coerced diff exceeds DiffSizeThreshold, scaled by
// how far over the limit the diff runs (capped at 40).
func DiffSize(_ context.Context, in Input) CheckResult {
	size := len(in.Diff)
	if size <= DiffSizeThreshold {
		return CheckResult{Name: "diff-size"}
	}
	over := size - DiffSizeThreshold
	delta := 10 + over/DiffSizeThreshold*10
	if delta > 40 {
		delta = 40
	}
	return CheckResult{Name: "diff-size", Failed: true, Delta: delta, Detail: "diff exceeds size threshold"}
}

// IntentAlignment fails critically when the linked action's decision was
// block but the tool nonetheless reports a non-error result — meaning
// execution proceeded despite the pipeline's verdict (spec §4.8).
func IntentAlignment(_ context.Context, in Input) CheckResult {
	if in.Action.Decision == action.DecisionBlock && in.Output != "" && !looksLikeError(in.Output) {
		return CheckResult{Name: "intent-alignment", Failed: true, Delta: 50, Detail: "blocked action nonetheless reported a successful result"}
	}
	return CheckResult{Name: "intent-alignment"}
}

func looksLikeError(output string) bool {
	lower := strings.ToLower(output)
	for _, kw := range []string{"error", "denied", "blocked", "failed", "refused"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// OutputInjection reuses the injection-firewall's pattern taxonomy against
// the tool's reported output (spec §4.8).
func OutputInjection(_ context.Context, in Input) CheckResult {
	result := scanner.Scan(in.Output)
	if result.Detected {
		return CheckResult{Name: "output-injection", Failed: true, Delta: 35, Detail: "output contains an injection pattern: " + result.Findings[0].PatternName}
	}
	return CheckResult{Name: "output-injection"}
}

// PolicyMatcher is the narrow slice of policy.Cache the independent-reverify
// check needs: a current policy snapshot to match the substituted output
// against, independent of whatever snapshot the original pipeline run used.
type PolicyMatcher interface {
	Snapshot(ctx context.Context) ([]policy.Policy, bool, error)
}

// IndependentReverify re-runs policy-engine layer 4 with the tool's
// reported output substituted into the flattened argument string, catching
// a tool whose output itself would have tripped a block-severity policy had
// it been the input (spec §4.8).
func IndependentReverify(ctx context.Context, in Input, matcher PolicyMatcher) CheckResult {
	policies, _, err := matcher.Snapshot(ctx)
	if err != nil {
		return CheckResult{Name: "independent-reverify"}
	}
	flattened := normalize.FoldString(in.Output)
	for _, p := range policies {
		if p.Action != action.DecisionBlock {
			continue
		}
		if p.Matches(policy.MatchInput{Tool: in.Action.Tool, FlattenedArgs: flattened}) {
			return CheckResult{Name: "independent-reverify", Failed: true, Delta: 45, Detail: "output would have matched block policy " + p.ID}
		}
	}
	return CheckResult{Name: "independent-reverify"}
}

// AgentBaseline is the rolling per-agent behavioral signal set drift-
// detection compares a new action against. It holds five averages;
// DriftDetection scores only three of them (see there).
type AgentBaseline struct {
	AvgRisk             float64
	BlockRate           float64
	AvgFlattenedLength  float64
	DistinctToolCount   float64
	CredentialMatchRate float64
}

// ComputeBaseline derives an AgentBaseline from up to depth of the agent's
// most recent actions (spec's default depth is 500, configurable).
func ComputeBaseline(history []action.Action) AgentBaseline {
	if len(history) == 0 {
		return AgentBaseline{}
	}
	var riskSum, lenSum, credSum float64
	var blocks float64
	tools := make(map[string]bool)
	for _, a := range history {
		riskSum += float64(a.Risk)
		lenSum += float64(len(a.FlattenedArgs))
		tools[a.Tool] = true
		if a.Decision == action.DecisionBlock {
			blocks++
		}
		if risk.HasCredentialKeyword(strings.ToLower(a.FlattenedArgs)) {
			credSum++
		}
	}
	n := float64(len(history))
	return AgentBaseline{
		AvgRisk:             riskSum / n,
		BlockRate:           blocks / n,
		AvgFlattenedLength:  lenSum / n,
		DistinctToolCount:   float64(len(tools)),
		CredentialMatchRate: credSum / n,
	}
}

// DriftDetection fails when the current action deviates from the agent's
// rolling baseline by DriftFailThreshold or more, summed across three
// signals: risk score, flattened-argument length, and credential-keyword
// presence (each a percentage delta capped at 100). BlockRate and
// DistinctToolCount are not part of the score, and decision distribution,
// chain-pattern frequency and call velocity are not measured. With fewer
// than 10 prior actions the check passes.
func DriftDetection(ctx context.Context, in Input, auditStore audit.Store, baselineDepth int) CheckResult {
	history, err := auditStore.Query(ctx, audit.Filter{AgentID: in.Action.AgentID, Limit: baselineDepth})
	if err != nil || len(history) < 10 {
		// Too little history to establish a meaningful baseline; pass.
		return CheckResult{Name: "drift-detection"}
	}
	baseline := ComputeBaseline(history)

	credSignal := 0.0
	if risk.HasCredentialKeyword(strings.ToLower(in.Action.FlattenedArgs)) {
		credSignal = 1.0
	}
	deviation := pctDelta(float64(in.Action.Risk), baseline.AvgRisk) +
		pctDelta(float64(len(in.Action.FlattenedArgs)), baseline.AvgFlattenedLength) +
		pctDelta(credSignal, baseline.CredentialMatchRate)

	if deviation >= DriftFailThreshold {
		return CheckResult{Name: "drift-detection", Failed: true, Delta: DriftFailThreshold, Detail: "behavior deviates from rolling baseline"}
	}
	return CheckResult{Name: "drift-detection"}
}

// pctDelta returns an absolute percentage-point-scaled deviation of v from
// baseline, capped at 100 per signal so one runaway signal can't dominate.
func pctDelta(v, baseline float64) float64 {
	if baseline == 0 {
		if v == 0 {
			return 0
		}
		return 100
	}
	d := (v - baseline) / baseline * 100
	if d < 0 {
		d = -d
	}
	if d > 100 {
		d = 100
	}
	return d
}
