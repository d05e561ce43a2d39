package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName = "github.com/wolfeidau/ausgabenzettel"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Read path
	DocumentReadsTotal       metric.Int64Counter
	FingerprintProbesTotal   metric.Int64Counter
	FingerprintRecomputed    metric.Int64Counter
	FingerprintRecomputeTime metric.Float64Histogram

	// Write path
	DocumentWritesTotal      metric.Int64Counter
	DocumentWriteErrorsTotal metric.Int64Counter
	DocumentWriteDuration    metric.Float64Histogram
	DocumentBytesWritten     metric.Int64Counter
	PreconditionMissingTotal metric.Int64Counter
	PreconditionFailedTotal  metric.Int64Counter

	// Transport
	RateLimitedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.DocumentReadsTotal, _ = meter.Int64Counter(
		"ausgabenzettel.document.reads.total",
		metric.WithDescription("Total number of document reads"),
		metric.WithUnit("{read}"),
	)

	m.FingerprintProbesTotal, _ = meter.Int64Counter(
		"ausgabenzettel.fingerprint.probes.total",
		metric.WithDescription("Total number of fingerprint only requests"),
		metric.WithUnit("{probe}"),
	)

	m.FingerprintRecomputed, _ = meter.Int64Counter(
		"ausgabenzettel.fingerprint.recomputed.total",
		metric.WithDescription("Total number of fingerprints computed from content because no cached value existed"),
		metric.WithUnit("{fingerprint}"),
	)

	m.FingerprintRecomputeTime, _ = meter.Float64Histogram(
		"ausgabenzettel.fingerprint.recompute.duration",
		metric.WithDescription("Duration of fingerprint recomputation"),
		metric.WithUnit("ms"),
	)

	m.DocumentWritesTotal, _ = meter.Int64Counter(
		"ausgabenzettel.document.writes.total",
		metric.WithDescription("Total number of successful document writes"),
		metric.WithUnit("{write}"),
	)

	m.DocumentWriteErrorsTotal, _ = meter.Int64Counter(
		"ausgabenzettel.document.writes.errors.total",
		metric.WithDescription("Total number of document writes that failed in storage"),
		metric.WithUnit("{error}"),
	)

	m.DocumentWriteDuration, _ = meter.Float64Histogram(
		"ausgabenzettel.document.writes.duration",
		metric.WithDescription("Duration of document writes including body streaming"),
		metric.WithUnit("ms"),
	)

	m.DocumentBytesWritten, _ = meter.Int64Counter(
		"ausgabenzettel.document.bytes_written.total",
		metric.WithDescription("Total number of document bytes persisted"),
		metric.WithUnit("By"),
	)

	m.PreconditionMissingTotal, _ = meter.Int64Counter(
		"ausgabenzettel.document.precondition.missing.total",
		metric.WithDescription("Total number of writes rejected for lacking a precondition"),
		metric.WithUnit("{write}"),
	)

	m.PreconditionFailedTotal, _ = meter.Int64Counter(
		"ausgabenzettel.document.precondition.failed.total",
		metric.WithDescription("Total number of writes rejected because the document changed"),
		metric.WithUnit("{write}"),
	)

	m.RateLimitedTotal, _ = meter.Int64Counter(
		"ausgabenzettel.http.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the write rate limiter"),
		metric.WithUnit("{request}"),
	)

	return m
}

// Tracer returns the tracer used for document operations.
func Tracer() trace.Tracer {
	return otel.Tracer(meterName)
}
