package observer

import (
	"context"
	"time"

	parley "github.com/nevindra/parley"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	parleylog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedExecutor wraps a parley.Executor with OTEL instrumentation.
type ObservedExecutor struct {
	inner parley.Executor
	inst  *Instruments
}

// WrapExecutor returns an instrumented executor that emits traces, metrics,
// and logs around every call. Compose with the root middleware from the
// inside out: retry innermost, then rate limiting, then observation, so the
// wrapper sees the call the machine sees.
func WrapExecutor(inner parley.Executor, inst *Instruments) *ObservedExecutor {
	return &ObservedExecutor{inner: inner, inst: inst}
}

func (o *ObservedExecutor) Name() string { return o.inner.Name() }

func (o *ObservedExecutor) Execute(ctx context.Context, req parley.ExecutorRequest) (parley.ExecutorResponse, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(
			AttrExecutorName.String(o.inner.Name()),
			AttrNodeID.String(req.NodeID),
		),
	}
	if req.SessionID != "" {
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrSessionID.String(req.SessionID),
		))
	}
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
	}

	ctx, span := o.inst.Tracer.Start(ctx, "executor.execute", spanAttrs...)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Execute(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrTokensInput.Int(resp.Usage.InputTokens),
		AttrTokensOutput.Int(resp.Usage.OutputTokens),
		AttrToolCalls.Int(len(resp.ToolCalls)),
	)
	if resp.Transition != nil {
		span.SetAttributes(AttrTransition.String(resp.Transition.Name))
	}

	o.record(ctx, req.NodeID, status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedExecutor) record(ctx context.Context, nodeID, status string, durationMs float64, usage parley.Usage) {
	name := o.inner.Name()

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrExecutorName.String(name),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrExecutorName.String(name),
		attribute.String("direction", "output"),
	))
	o.inst.ExecutorCalls.Add(ctx, 1, metric.WithAttributes(
		AttrExecutorName.String(name),
		AttrNodeID.String(nodeID),
		attribute.String("status", status),
	))
	o.inst.ExecutorDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrExecutorName.String(name),
	))

	// Structured log
	var rec parleylog.Record
	rec.SetSeverity(parleylog.SeverityInfo)
	rec.SetBody(parleylog.StringValue("executor call completed"))
	rec.AddAttributes(
		parleylog.String("executor.name", name),
		parleylog.String("node.id", nodeID),
		parleylog.Int("tokens.input", usage.InputTokens),
		parleylog.Int("tokens.output", usage.OutputTokens),
		parleylog.Float64("executor.duration_ms", durationMs),
		parleylog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ parley.Executor = (*ObservedExecutor)(nil)
