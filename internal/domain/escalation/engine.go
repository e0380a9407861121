package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/audit"
	"github.com/runtimegov/governor/internal/domain/governor"
)

// lookback is how many of an agent's most recent actions the threshold
// checks are computed over (spec §4.11).
const lookback = 10

// blockCountThreshold auto-engages the kill switch and opens a critical
// escalation once this many of the last lookback decisions were block.
const blockCountThreshold = 3

// avgRiskThreshold auto-engages the kill switch once the mean risk score of
// the last lookback actions reaches this value.
const avgRiskThreshold = 82

// defaultExpiryTimeout is how long a pending event waits for resolution
// before ExpirePending transitions it to expired, when the caller does not
// configure one explicitly.
const defaultExpiryTimeout = 24 * time.Hour

// defaultSweepInterval is how often StartExpirySweeper polls for pending
// events that have aged past their timeout.
const defaultSweepInterval = 5 * time.Minute

// Engine implements the Escalation Engine (C11): it evaluates an agent's
// recent decision history against fixed thresholds, opens review escalations
// for any individual block/review, and notifies a Notifier on every create
// and resolution.
type Engine struct {
	store      Store
	audit      audit.Store
	killSwitch *governor.KillSwitch
	notifier   Notifier
	timeout    time.Duration
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewEngine constructs an Engine. notifier may be nil, in which case
// notifications are skipped silently. timeout <= 0 defaults to 24h (spec
// §4.11: "expired (after a configurable timeout)").
func NewEngine(store Store, auditStore audit.Store, killSwitch *governor.KillSwitch, notifier Notifier, timeout time.Duration, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Event) error { return nil })
	}
	if timeout <= 0 {
		timeout = defaultExpiryTimeout
	}
	return &Engine{
		store:      store,
		audit:      auditStore,
		killSwitch: killSwitch,
		notifier:   notifier,
		timeout:    timeout,
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}
}

// Evaluate inspects a just-persisted Action's outcome and the calling
// agent's recent history, opening escalations and engaging the kill switch
// per the spec §4.11 thresholds. It is invoked as the final pipeline step
// after an Action is committed (spec §4.7 step 6).
func (e *Engine) Evaluate(ctx context.Context, a action.Action) error {
	recent, err := e.audit.Query(ctx, audit.Filter{AgentID: a.AgentID, Limit: lookback})
	if err != nil {
		e.logger.Warn("escalation: recent-history query failed", "agent_id", a.AgentID, "error", err)
	}

	blockCount := 0
	riskSum := 0
	for _, r := range recent {
		if r.Decision == action.DecisionBlock {
			blockCount++
		}
		riskSum += r.Risk
	}
	avgRisk := 0
	if len(recent) > 0 {
		avgRisk = riskSum / len(recent)
	}

	if blockCount >= blockCountThreshold {
		e.autoEngage(ctx, a, fmt.Sprintf("repeated blocks: %d of last %d decisions were block", blockCount, len(recent)))
		return e.openEvent(ctx, a, SeverityCritical, "repeated blocked actions triggered auto-kill")
	}
	if avgRisk >= avgRiskThreshold && len(recent) > 0 {
		e.autoEngage(ctx, a, "sustained high risk: average risk over last lookback exceeded threshold")
		return e.openEvent(ctx, a, SeverityCritical, "sustained high risk triggered auto-kill")
	}

	switch a.Decision {
	case action.DecisionBlock, action.DecisionReview:
		return e.openEvent(ctx, a, SeverityForRisk(a.Risk), "action decision "+a.Decision.String()+" requires review")
	}
	return nil
}

func (e *Engine) autoEngage(ctx context.Context, a action.Action, reason string) {
	if e.killSwitch == nil {
		return
	}
	if err := e.killSwitch.Engage(ctx, "escalation-engine:"+a.AgentID); err != nil {
		e.logger.Error("escalation: auto-engage kill switch failed", "agent_id", a.AgentID, "error", err)
	} else {
		e.logger.Warn("escalation: kill switch auto-engaged", "agent_id", a.AgentID, "reason", reason)
	}
}

func (e *Engine) openEvent(ctx context.Context, a action.Action, sev Severity, reason string) error {
	ev := Event{
		ID:       e.newID(),
		ActionID: a.ID,
		Severity: sev,
		Status:   StatusPending,
		Reason:   reason,
	}
	created, err := e.store.Create(ctx, ev)
	if err != nil {
		return err
	}
	if err := e.notifier.Notify(ctx, created); err != nil {
		e.logger.Warn("escalation: notifier failed on create", "escalation_id", created.ID, "error", err)
	}
	return nil
}

// Resolve transitions an escalation to approved or rejected, notifying on
// success (spec §4.11: "on resolution, a notifier is invoked").
func (e *Engine) Resolve(ctx context.Context, id string, approve bool, actorID string) (Event, error) {
	ev, err := e.store.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if approve {
		ev.Status = StatusApproved
	} else {
		ev.Status = StatusRejected
	}
	ev.ResolvedBy = actorID
	updated, err := e.store.Update(ctx, ev)
	if err != nil {
		return Event{}, err
	}
	if err := e.notifier.Notify(ctx, updated); err != nil {
		e.logger.Warn("escalation: notifier failed on resolution", "escalation_id", updated.ID, "error", err)
	}
	return updated, nil
}

// ExpirePending transitions every pending event older than the configured
// timeout to expired, notifying on each transition (spec §4.11: "pending
// events transition to approved, rejected, or expired after a configurable
// timeout"). It returns the number of events expired.
func (e *Engine) ExpirePending(ctx context.Context) (int, error) {
	pending, err := e.store.List(ctx, Filter{Status: StatusPending})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ev := range pending {
		if e.now().Sub(ev.CreatedAt) < e.timeout {
			continue
		}
		ev.Status = StatusExpired
		updated, err := e.store.Update(ctx, ev)
		if err != nil {
			e.logger.Error("escalation: expire failed", "escalation_id", ev.ID, "error", err)
			continue
		}
		if err := e.notifier.Notify(ctx, updated); err != nil {
			e.logger.Warn("escalation: notifier failed on expiry", "escalation_id", updated.ID, "error", err)
		}
		expired++
	}
	return expired, nil
}

// StartExpirySweeper polls ExpirePending every interval (defaultSweepInterval
// if <= 0) until Stop is called. Safe to call at most once per Engine.
func (e *Engine) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	e.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n, err := e.ExpirePending(ctx); err != nil {
						e.logger.Warn("escalation: expiry sweep failed", "error", err)
					} else if n > 0 {
						e.logger.Info("escalation: expired pending events", "count", n)
					}
				case <-e.stopSweep:
					return
				}
			}
		}()
	})
}

// Stop halts the expiry sweeper goroutine, if running.
func (e *Engine) Stop() {
	close(e.stopSweep)
}
