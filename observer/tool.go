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

// WrapTool returns a copy of t whose handler emits traces, metrics, and logs
// around each execution. Schema validation happens in the machine before the
// handler runs, so the wrapper only observes calls whose input already
// validated.
func WrapTool(t parley.Tool, inst *Instruments) parley.Tool {
	t.Handler = wrapHandler(t.Handler, t.Name, "tool.execute", inst)
	return t
}

// WrapCommand returns a copy of c whose handler is instrumented like
// [WrapTool].
func WrapCommand(c parley.Command, inst *Instruments) parley.Command {
	c.Handler = wrapHandler(c.Handler, c.Name, "command.execute", inst)
	return c
}

func wrapHandler(inner parley.ToolFunc, name, spanName string, inst *Instruments) parley.ToolFunc {
	return func(ctx context.Context, input map[string]any, tc parley.ToolContext) (parley.ToolReply, error) {
		ctx, span := inst.Tracer.Start(ctx, spanName, trace.WithAttributes(
			AttrToolName.String(name),
		))
		defer span.End()
		start := time.Now()

		reply, err := inner(ctx, input, tc)

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.SetAttributes(
			AttrToolStatus.String(status),
			AttrToolResultLength.Int(len(reply.Content)),
		)

		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			attribute.String("status", status),
		))
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))

		// Structured log
		var rec parleylog.Record
		rec.SetSeverity(parleylog.SeverityInfo)
		rec.SetBody(parleylog.StringValue("tool executed"))
		rec.AddAttributes(
			parleylog.String("tool.name", name),
			parleylog.String("tool.status", status),
			parleylog.Int("tool.result_length", len(reply.Content)),
			parleylog.Float64("tool.duration_ms", durationMs),
		)
		inst.Logger.Emit(ctx, rec)

		return reply, err
	}
}
