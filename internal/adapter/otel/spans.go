package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cockpit"

// StartActivationSpan starts a span for a session activation.
func StartActivationSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.activate",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
}

// StartCommandSpan starts a span for a user command sent over a channel.
func StartCommandSpan(ctx context.Context, sessionID, runID, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run.command",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("run.id", runID),
			attribute.String("command", command),
		),
	)
}

// StartDispatchSpan starts a span for a plan dispatch.
func StartDispatchSpan(ctx context.Context, sessionID, dispatchID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan.dispatch",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("dispatch.id", dispatchID),
		),
	)
}
