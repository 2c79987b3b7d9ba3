// Package telemetry centralises the OpenTelemetry tracer and meter
// instances shared across the document lifecycle engine.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gao-dev/lifecycle"

// Tracer is the shared tracer for every component boundary operation.
var Tracer = otel.Tracer(instrumentationName)

// Meter is the shared meter for the registry retry, retention, and
// search latency instruments below.
var Meter = otel.Meter(instrumentationName)

// Instruments bundles the metric instruments registered at init time.
// A failed registration leaves the corresponding field nil; callers
// must treat recording as best-effort (see Record helpers below).
var Instruments struct {
	RegistryRetries   metric.Int64Counter
	RetentionArchived metric.Int64Counter
	RetentionDeleted  metric.Int64Counter
	SearchLatencyMs   metric.Float64Histogram
}

func init() {
	var err error
	Instruments.RegistryRetries, err = Meter.Int64Counter(
		"lifecycle.registry.retry_count",
		metric.WithDescription("number of SQLITE_BUSY retries performed by write transactions"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		Instruments.RegistryRetries = nil
	}

	Instruments.RetentionArchived, err = Meter.Int64Counter(
		"lifecycle.retention.archived_count",
		metric.WithDescription("documents archived by retention sweeps"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		Instruments.RetentionArchived = nil
	}

	Instruments.RetentionDeleted, err = Meter.Int64Counter(
		"lifecycle.retention.deleted_count",
		metric.WithDescription("documents deleted by retention sweeps"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		Instruments.RetentionDeleted = nil
	}

	Instruments.SearchLatencyMs, err = Meter.Float64Histogram(
		"lifecycle.search.latency_ms",
		metric.WithDescription("search() call latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		Instruments.SearchLatencyMs = nil
	}
}

// AddEvent records a span event with string attributes.
func AddEvent(span trace.Span, name string, attrs map[string]string) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	span.AddEvent(name, trace.WithAttributes(kvs...))
}

// IncCounter adds delta to c if c is non-nil (registration may have
// failed against a broken meter provider).
func IncCounter(ctx context.Context, c metric.Int64Counter, delta int64) {
	if c == nil {
		return
	}
	c.Add(ctx, delta)
}

// RecordHistogram records value on h if h is non-nil.
func RecordHistogram(ctx context.Context, h metric.Float64Histogram, value float64) {
	if h == nil {
		return
	}
	h.Record(ctx, value)
}
