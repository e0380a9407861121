package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/escalation"
)

// Engine runs the Verification Engine's eight checks against a reported
// tool result and persists the resulting VerificationLog, opening an
// escalation when the verdict is violation (spec §4.8).
type Engine struct {
	store         Store
	auditStore    audit.Store
	matcher       PolicyMatcher
	escalations   escalation.Store
	notifier      escalation.Notifier
	baselineDepth int
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewEngine constructs a verification Engine. baselineDepth <= 0 defaults
// to 500, per spec §4.8's recommended drift-detection window.
func NewEngine(store Store, auditStore audit.Store, matcher PolicyMatcher, escalations escalation.Store, notifier escalation.Notifier, baselineDepth int, logger *slog.Logger) *Engine {
	if baselineDepth <= 0 {
		baselineDepth = 500
	}
	if notifier == nil {
		notifier = escalation.NotifierFunc(func(context.Context, escalation.Event) error { return nil })
	}
	return &Engine{
		store:         store,
		auditStore:    auditStore,
		matcher:       matcher,
		escalations:   escalations,
		notifier:      notifier,
		baselineDepth: baselineDepth,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Verify resolves the persisted Action for actionID through the audit
// store, runs all eight checks over it plus the caller-reported output and
// diff, aggregates a verdict, persists the VerificationLog, and — on a
// violation verdict — opens a critical escalation (spec §4.8: "any
// violation auto-creates an escalation"). The Action is always the
// audit-store record, never a caller-supplied value, so a compromised or
// buggy caller cannot forge Action.Decision to dodge the
// blocked-but-succeeded check or the critical-violation invariant (spec §8).
func (e *Engine) Verify(ctx context.Context, actionID, output, diff string) (log VerificationLog, err error) {
	ctx, finishSpan := startVerifySpan(ctx, actionID)
	defer func() { finishSpan(&log, err) }()

	act, err := e.auditStore.Get(ctx, actionID)
	if err != nil {
		return VerificationLog{}, fmt.Errorf("resolve action %s: %w", actionID, err)
	}
	in := Input{Action: act, Output: output, Diff: diff}

	checks := []CheckResult{
		runCheck(ctx, "credential-scan", func(ctx context.Context) CheckResult { return CredentialScan(ctx, in) }),
		runCheck(ctx, "destructive-output", func(ctx context.Context) CheckResult { return DestructiveOutput(ctx, in) }),
		runCheck(ctx, "scope-compliance", func(ctx context.Context) CheckResult { return ScopeCompliance(ctx, in) }),
		runCheck(ctx, "diff-size", func(ctx context.Context) CheckResult { return DiffSize(ctx, in) }),
		runCheck(ctx, "intent-alignment", func(ctx context.Context) CheckResult { return IntentAlignment(ctx, in) }),
		runCheck(ctx, "output-injection", func(ctx context.Context) CheckResult { return OutputInjection(ctx, in) }),
		runCheck(ctx, "independent-reverify", func(ctx context.Context) CheckResult { return IndependentReverify(ctx, in, e.matcher) }),
		runCheck(ctx, "drift-detection", func(ctx context.Context) CheckResult { return DriftDetection(ctx, in, e.auditStore, e.baselineDepth) }),
	}

	sum, verdict := Aggregate(checks)
	log = VerificationLog{
		ID:        e.newID(),
		ActionID:  in.Action.ID,
		Checks:    checks,
		Sum:       sum,
		Verdict:   verdict,
		CreatedAt: e.now(),
	}

	if err := e.store.Append(ctx, log); err != nil {
		return log, err
	}

	if verdict == VerdictViolation {
		e.openEscalation(ctx, log)
	}
	return log, nil
}

func (e *Engine) openEscalation(ctx context.Context, log VerificationLog) {
	ev := escalation.Event{
		ID:       e.newID(),
		ActionID: log.ActionID,
		Severity: escalation.SeverityCritical,
		Status:   escalation.StatusPending,
		Reason:   "verification violation: " + summarize(log.Checks),
	}
	created, err := e.escalations.Create(ctx, ev)
	if err != nil {
		e.logger.Error("verification: escalation create failed", "action_id", log.ActionID, "error", err)
		return
	}
	if err := e.notifier.Notify(ctx, created); err != nil {
		e.logger.Warn("verification: notifier failed on violation escalation", "escalation_id", created.ID, "error", err)
	}
}

func summarize(checks []CheckResult) string {
	for _, c := range checks {
		if c.Failed && c.Delta >= 20 {
			return c.Name
		}
	}
	return "cumulative score"
}
