package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runtimegov/governor/internal/domain/action"
)

// tracer emits spans for the Pipeline Orchestrator (C7). With no
// TracerProvider registered (the default in tests and in any deployment
// that hasn't wired an exporter) every span it produces is a no-op, so
// this instrumentation carries no behavioral weight of its own.
var tracer = otel.Tracer("github.com/runtimegov/governor/internal/service")

// evaluationsTotal and evaluationDuration are registered once at package
// load against the default Prometheus registerer, independent of how many
// Engine instances a caller (or a test) constructs — mirroring eventbus's
// per-instance registration (see adapter/outbound/eventbus.New) but at
// package scope, since NewEngine's constructor signature is part of the
// caller-facing surface this module promises not to churn.
var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "governor",
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Total Evaluate() calls by final decision.",
	}, []string{"decision"})

	evaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "governor",
		Subsystem: "engine",
		Name:      "evaluation_duration_seconds",
		Help:      "Evaluate() wall-clock latency by final decision.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"decision"})
)

func init() {
	prometheus.MustRegister(evaluationsTotal, evaluationDuration)
}

// startEvaluateSpan opens the tracing span and metrics timer that wrap the
// whole six-layer pipeline. The returned finish func reports the
// eventually-decided outcome (or the error that short-circuited it) and
// must run via defer from the top of Evaluate, so every early return —
// kill switch, injection firewall, scope, policy block, or timeout —
// is covered without touching each return statement individually.
func startEvaluateSpan(ctx context.Context, req action.Request) (context.Context, func(*action.Result, error)) {
	t0 := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.Evaluate", trace.WithAttributes(
		attribute.String("governor.tool", req.Tool),
		attribute.String("governor.agent_id", req.Context.AgentID),
		attribute.String("governor.trace_id", req.Context.TraceID),
		attribute.String("governor.span_id", req.Context.SpanID),
	))
	return ctx, func(result *action.Result, err error) {
		decision := "error"
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if result != nil {
			decision = string(result.Decision)
			span.SetAttributes(
				attribute.Int("governor.risk_score", result.RiskScore),
				attribute.Bool("governor.degraded", result.Degraded),
			)
			span.SetStatus(codes.Ok, "")
		}
		evaluationsTotal.WithLabelValues(decision).Inc()
		evaluationDuration.WithLabelValues(decision).Observe(time.Since(t0).Seconds())
		span.End()
	}
}

// startLayerSpan opens one child span per pipeline layer, nested under the
// span startEvaluateSpan opened for the call as a whole (spec §4.7's six
// layers become six child spans under one evaluate span). The returned ctx
// carries the child span forward so a layer's own downstream calls
// (policyCache.Snapshot, sessions.History, ...) attribute their work to it.
func startLayerSpan(ctx context.Context, layer string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "Engine.layer."+layer)
	return ctx, span.End
}
