package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "buildnotify"

// Metrics holds all buildnotify metric instruments.
type Metrics struct {
	EventsReceived      metric.Int64Counter
	ReasonsMatched      metric.Int64Counter
	NotificationsSent   metric.Int64Counter
	NotificationsFailed metric.Int64Counter
	DispatchDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsReceived, err = meter.Int64Counter("buildnotify.events.received",
		metric.WithDescription("Number of build events dispatched"))
	if err != nil {
		return nil, err
	}

	m.ReasonsMatched, err = meter.Int64Counter("buildnotify.reasons.matched",
		metric.WithDescription("Number of notification reasons that matched and were enabled"))
	if err != nil {
		return nil, err
	}

	m.NotificationsSent, err = meter.Int64Counter("buildnotify.notifications.sent",
		metric.WithDescription("Number of notifications delivered to every destination"))
	if err != nil {
		return nil, err
	}

	m.NotificationsFailed, err = meter.Int64Counter("buildnotify.notifications.failed",
		metric.WithDescription("Number of notifications with at least one failed destination"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("buildnotify.dispatch.duration_seconds",
		metric.WithDescription("Time to handle one build event in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
