// Package cel implements the Chain Analyzer's chain.PredicateEvaluator port
// using compiled CEL programs, one per declared pattern (spec §4.5). This
// keeps the 11 attack-sequence thresholds declarative and independently
// auditable, the same role CEL plays in the teacher's policy-rule
// evaluator — retargeted here from RBAC conditions to pattern predicates
// over a small feature activation (chain.Signals.Activation).
package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/runtimegov/governor/internal/domain/chain"
)

// maxExpressionLength bounds a pattern expression's length (defense in
// depth; patterns are compiled once at construction from a fixed list, not
// from untrusted input, but the limit documents the same ceiling the
// teacher's policy-rule evaluator enforces on CEL text it does accept from
// operators).
const maxExpressionLength = 1024

// maxCostBudget limits CEL runtime cost per evaluation to prevent a
// pathological expression from degrading the pipeline's hot path.
const maxCostBudget = 10_000

// evalTimeout bounds a single pattern evaluation; chain.Analyzer layers its
// own 100ms soft cap across all 11 patterns on top of this.
const evalTimeout = 50 * time.Millisecond

// ChainEvaluator implements chain.PredicateEvaluator by compiling every
// chain.Patterns entry once at construction time.
type ChainEvaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
}

var _ chain.PredicateEvaluator = (*ChainEvaluator)(nil)

// NewChainEvaluator builds the CEL environment for chain.Signals and
// compiles every declared pattern. Returns an error if any expression
// fails to parse, type-check, or exceeds maxExpressionLength — a
// configuration-time failure, never a per-request one.
func NewChainEvaluator() (*ChainEvaluator, error) {
	env, err := newSignalsEnv()
	if err != nil {
		return nil, fmt.Errorf("build chain CEL environment: %w", err)
	}

	e := &ChainEvaluator{env: env, programs: make(map[string]cel.Program, len(chain.Patterns))}
	for _, p := range chain.Patterns {
		if len(p.Expression) > maxExpressionLength {
			return nil, fmt.Errorf("pattern %s: expression exceeds %d characters", p.ID, maxExpressionLength)
		}
		prg, err := e.compile(p.Expression)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		e.programs[p.ID] = prg
	}
	return e, nil
}

func (e *ChainEvaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// Eval evaluates the pre-compiled program for patternID against activation.
func (e *ChainEvaluator) Eval(ctx context.Context, patternID string, activation map[string]interface{}) (bool, error) {
	prg, ok := e.programs[patternID]
	if !ok {
		return false, fmt.Errorf("no compiled program for pattern %q", patternID)
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", patternID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("pattern %s did not evaluate to bool, got %T", patternID, out.Value())
	}
	return b, nil
}
