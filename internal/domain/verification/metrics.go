package verification

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits spans for the Verification Engine (C8). Absent a registered
// TracerProvider every span is a no-op, matching the Pipeline Orchestrator's
// instrumentation in internal/service.
var tracer = otel.Tracer("github.com/runtimegov/governor/internal/domain/verification")

var (
	verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "governor",
		Subsystem: "verification",
		Name:      "runs_total",
		Help:      "Total Verify() calls by verdict.",
	}, []string{"verdict"})

	verificationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "governor",
		Subsystem: "verification",
		Name:      "run_duration_seconds",
		Help:      "Verify() wall-clock latency by verdict.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"verdict"})
)

func init() {
	prometheus.MustRegister(verificationsTotal, verificationDuration)
}

// startVerifySpan opens the span and timer wrapping Verify's eight checks.
// The finish func must run via defer from the top of Verify so the early
// returns (action lookup failure, store-append failure) and the normal path
// all report.
func startVerifySpan(ctx context.Context, actionID string) (context.Context, func(*VerificationLog, error)) {
	t0 := time.Now()
	ctx, span := tracer.Start(ctx, "verification.Engine.Verify", trace.WithAttributes(
		attribute.String("governor.action_id", actionID),
	))
	return ctx, func(log *VerificationLog, err error) {
		verdict := "error"
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if log != nil {
			verdict = string(log.Verdict)
			span.SetAttributes(attribute.Int("governor.verification_sum", log.Sum))
			span.SetStatus(codes.Ok, "")
		}
		verificationsTotal.WithLabelValues(verdict).Inc()
		verificationDuration.WithLabelValues(verdict).Observe(time.Since(t0).Seconds())
		span.End()
	}
}

// runCheck wraps one of Verify's eight checks in its own child span, named
// after the check itself, nested under the span startVerifySpan opened.
func runCheck(ctx context.Context, name string, check func(context.Context) CheckResult) CheckResult {
	ctx, span := tracer.Start(ctx, "verification.check."+name)
	defer span.End()
	result := check(ctx)
	span.SetAttributes(attribute.Bool("governor.check_failed", result.Failed))
	return result
}
