package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nightshift/backend/internal/domain"
)

const tracerName = "github.com/nightshift/backend/internal/executor"

// startRunSpan starts a span for one agent run. With no SDK installed the
// global provider is a no-op.
func startRunSpan(ctx context.Context, task *domain.Task, sandboxed bool) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.run")
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.capabilities", len(task.Capabilities)),
		attribute.Bool("task.needs_vcs", task.NeedsVCS),
		attribute.Bool("run.sandboxed", sandboxed),
	)
	return ctx, span
}

// endRunSpan ends the run span with result info.
func endRunSpan(span trace.Span, res *domain.ExecutionResult, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.Int("run.exit_code", res.ExitCode),
			attribute.Bool("run.success", res.Success),
			attribute.Bool("run.timed_out", res.TimedOut),
			attribute.Int64("run.tokens", res.Usage.TotalTokens()),
			attribute.Int("run.files_created", len(res.Effects.Created)),
			attribute.Int("run.files_modified", len(res.Effects.Modified)),
			attribute.Int("run.files_deleted", len(res.Effects.Deleted)),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res != nil && !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	span.End()
}
