// Package verification implements the Verification Engine (C8): eight
// independent post-execution checks over a tool's reported result, an
// aggregation rule deriving a verdict, and escalation on violation.
package verification

import (
	"context"
	"time"

	"github.com/runtimegov/governor/internal/domain/action"
)

// Verdict is the aggregate outcome of a VerificationLog's checks (spec §4.8).
type Verdict string

const (
	VerdictCompliant  Verdict = "compliant"
	VerdictSuspicious Verdict = "suspicious"
	VerdictViolation  Verdict = "violation"
)

// CheckResult is one named check's outcome.
type CheckResult struct {
	// Name is the check identifier, e.g. "credential-scan".
	Name string
	// Failed reports whether the check found a problem.
	Failed bool
	// Delta is the signed score contribution if Failed (0 otherwise).
	Delta int
	// Detail is a short human-readable explanation.
	Detail string
}

// VerificationLog is the persisted record of one Verify call (spec §3).
type VerificationLog struct {
	ID        string
	ActionID  string
	Checks    []CheckResult
	Sum       int
	Verdict   Verdict
	CreatedAt time.Time
}

// Input carries everything the eight checks need to run. Engine.Verify
// builds Input itself, resolving Action from the audit store by id rather
// than accepting one from a caller — Action.Decision feeds the
// blocked-but-succeeded check (IntentAlignment) and must be the
// persisted record, not something a caller can fabricate.
type Input struct {
	// Action is the persisted action this result belongs to.
	Action action.Action
	// Output is the tool's reported result, coerced to a string up front
	// (spec §4.8: "structured diffs are coerced to string before sizing").
	Output string
	// Diff is an optional structured diff the caller additionally supplies;
	// coerced to a string the same way as Output before sizing.
	Diff string
}

// Store is the persistence port for verification logs.
type Store interface {
	Append(ctx context.Context, log VerificationLog) error
	Get(ctx context.Context, actionID string) (VerificationLog, bool, error)
}

// Aggregate derives a Verdict from a set of CheckResults (spec §4.8):
// violation if any single check failed with delta >= 20, or the sum of all
// deltas reaches 60; suspicious if the sum reaches 25; compliant otherwise.
func Aggregate(checks []CheckResult) (int, Verdict) {
	sum := 0
	anyHigh := false
	for _, c := range checks {
		if !c.Failed {
			continue
		}
		sum += c.Delta
		if c.Delta >= 20 {
			anyHigh = true
		}
	}
	switch {
	case anyHigh || sum >= 60:
		return sum, VerdictViolation
	case sum >= 25:
		return sum, VerdictSuspicious
	default:
		return sum, VerdictCompliant
	}
}
