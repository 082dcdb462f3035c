package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "repodeck"

// Fetch and action results.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
)

// Metrics holds all repodeck metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	Fetches        metric.Int64Counter
	Actions        metric.Int64Counter
	ActionDuration metric.Float64Histogram
	DiffFiles      metric.Int64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Fetches, err = meter.Int64Counter("repodeck.fetches",
		metric.WithDescription("Background refreshes by endpoint and result"))
	if err != nil {
		return nil, err
	}

	m.Actions, err = meter.Int64Counter("repodeck.actions",
		metric.WithDescription("User-triggered mutations by action and result"))
	if err != nil {
		return nil, err
	}

	m.ActionDuration, err = meter.Float64Histogram("repodeck.action.duration_seconds",
		metric.WithDescription("Mutation duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.DiffFiles, err = meter.Int64Histogram("repodeck.diff.files",
		metric.WithDescription("Number of changed files per accepted snapshot"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordFetch counts one refresh of endpoint.
func (m *Metrics) RecordFetch(ctx context.Context, endpoint, result string) {
	if m == nil {
		return
	}
	m.Fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	))
}

// RecordAction counts one mutation and its duration.
func (m *Metrics) RecordAction(ctx context.Context, action, result string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	)
	m.Actions.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, took.Seconds(), attrs)
}

// RecordDiffFiles records the file count of an accepted snapshot.
func (m *Metrics) RecordDiffFiles(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.DiffFiles.Record(ctx, int64(n))
}
