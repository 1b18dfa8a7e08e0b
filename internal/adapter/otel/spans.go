package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "buildnotify"

// StartDispatchSpan starts a span for handling one build event.
func StartDispatchSpan(ctx context.Context, project string, number int, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("build.project", project),
			attribute.Int("build.number", number),
			attribute.String("build.phase", phase),
		),
	)
}

// StartSendSpan starts a span for delivering one notification.
func StartSendSpan(ctx context.Context, reason string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "notification.send",
		trace.WithAttributes(
			attribute.String("notification.reason", reason),
		),
	)
}
