package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "repodeck"

// StartFetchSpan starts a span for a background refresh.
func StartFetchSpan(ctx context.Context, endpoint, repo string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "fetch."+endpoint,
		trace.WithAttributes(
			attribute.String("repo.key", repo),
			attribute.String("fetch.endpoint", endpoint),
		),
	)
}

// StartActionSpan starts a span for a user-triggered mutation.
func StartActionSpan(ctx context.Context, action, repo string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action."+action,
		trace.WithAttributes(
			attribute.String("repo.key", repo),
			attribute.String("action.name", action),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
