package chain

import (
	"context"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
)

// PredicateEvaluator runs one compiled pattern expression against an
// activation map and reports its boolean result. Implemented by the CEL
// adapter (internal/adapter/outbound/cel); kept as a narrow domain port so
// the analyzer's control flow has no CEL import of its own.
type PredicateEvaluator interface {
	// Eval evaluates the pattern identified by patternID against activation.
	// patternID lets the evaluator serve a pre-compiled program per pattern.
	Eval(ctx context.Context, patternID string, activation map[string]interface{}) (bool, error)
}

// Result is the outcome of one Analyze call.
type Result struct {
	// Matched is true if a pattern fired.
	Matched bool
	// PatternID is the matched pattern's id, empty if none matched.
	PatternID string
	// Boost is the risk contribution of the matched pattern, 0 if none.
	Boost int
	// Degraded is true if the 100ms soft cap was hit before all patterns
	// were evaluated (spec §5).
	Degraded bool
}

// Analyzer evaluates Patterns, in declared order, against session history
// and the current request. The first match (by declaration order, which is
// descending boost) wins.
type Analyzer struct {
	evaluator PredicateEvaluator
	now       func() time.Time
}

// NewAnalyzer constructs an Analyzer over the given predicate evaluator.
func NewAnalyzer(evaluator PredicateEvaluator) *Analyzer {
	return &Analyzer{evaluator: evaluator, now: time.Now}
}

// Analyze runs the 11 declared patterns against history (oldest-first) and
// cur, enforcing the 100ms soft cap (spec §5): on overrun it stops
// evaluating remaining patterns and reports Degraded.
func (a *Analyzer) Analyze(ctx context.Context, history []action.Action, cur Current) Result {
	signals := Extract(history, cur)
	activation := signals.Activation()

	deadline := a.now().Add(SoftCap)

	for _, p := range Patterns {
		if signals.PriorActionCount < p.MinPrior {
			continue
		}
		if a.now().After(deadline) {
			return Result{Degraded: true}
		}
		matched, err := a.evaluator.Eval(ctx, p.ID, activation)
		if err != nil || !matched {
			continue
		}
		return Result{Matched: true, PatternID: p.ID, Boost: p.Boost}
	}
	return Result{}
}
