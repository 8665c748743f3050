// Package observe provides application-wide observability primitives for
// vocalgap: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocalgap metrics.
const meterName = "github.com/vocalgap/vocalgap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DetectionDuration tracks end-to-end gap detection latency per song.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	DetectionDuration metric.Float64Histogram

	// SeparationDuration tracks vocal stem separation latency (full track,
	// window or scan chunk alike).
	SeparationDuration metric.Float64Histogram

	// EnrichmentDuration tracks preview/waveform artifact build latency.
	EnrichmentDuration metric.Float64Histogram

	// --- Distributions ---

	// DetectionConfidence tracks the confidence scores of accepted gaps.
	// Use with attribute: attribute.String("method", ...)
	DetectionConfidence metric.Float64Histogram

	// GapCorrection tracks |detected - original| in seconds, the size of
	// the correction a detection produced.
	GapCorrection metric.Float64Histogram

	// --- Counters ---

	// Detections counts completed detection runs. Use with attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	Detections metric.Int64Counter

	// DetectionRetries counts window-expansion retries.
	DetectionRetries metric.Int64Counter

	// ProviderFallbacks counts internal provider-to-provider delegations.
	// Use with attribute: attribute.String("provider", ...)
	ProviderFallbacks metric.Int64Counter

	// ScanChunks counts scanner chunk analyses. Use with attribute:
	//   attribute.String("cache", "hit"|"miss")
	ScanChunks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	ProviderErrors metric.Int64Counter

	// EnrichmentFailures counts best-effort artifact failures. Use with
	// attribute: attribute.String("artifact", "preview"|"waveform"|"confidence")
	EnrichmentFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks detection jobs currently executing.
	ActiveJobs metric.Int64UpDownCounter

	// WatchedSongs tracks the number of song files under directory watch.
	WatchedSongs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// detectionBuckets defines histogram bucket boundaries (in seconds) sized
// for detection latencies, which range from sub-second fast-preview runs to
// minute-long full separations.
var detectionBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// scoreBuckets covers the [0,1] confidence range.
var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectionDuration, err = m.Float64Histogram("vocalgap.detection.duration",
		metric.WithDescription("End-to-end gap detection latency per song."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SeparationDuration, err = m.Float64Histogram("vocalgap.separation.duration",
		metric.WithDescription("Vocal stem separation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentDuration, err = m.Float64Histogram("vocalgap.enrichment.duration",
		metric.WithDescription("Preview and waveform artifact build latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectionConfidence, err = m.Float64Histogram("vocalgap.detection.confidence",
		metric.WithDescription("Confidence scores of accepted gap detections."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GapCorrection, err = m.Float64Histogram("vocalgap.detection.correction",
		metric.WithDescription("Absolute difference between detected and original gap."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Detections, err = m.Int64Counter("vocalgap.detections",
		metric.WithDescription("Completed detection runs by method and status."),
	); err != nil {
		return nil, err
	}
	if met.DetectionRetries, err = m.Int64Counter("vocalgap.detection.retries",
		metric.WithDescription("Window-expansion retries during detection."),
	); err != nil {
		return nil, err
	}
	if met.ProviderFallbacks, err = m.Int64Counter("vocalgap.provider.fallbacks",
		metric.WithDescription("Internal provider-to-provider delegations by provider."),
	); err != nil {
		return nil, err
	}
	if met.ScanChunks, err = m.Int64Counter("vocalgap.scan.chunks",
		metric.WithDescription("Scanner chunk analyses by cache outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vocalgap.provider.errors",
		metric.WithDescription("Provider failures by provider and operation."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentFailures, err = m.Int64Counter("vocalgap.enrichment.failures",
		metric.WithDescription("Best-effort artifact failures by artifact kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("vocalgap.worker.active_jobs",
		metric.WithDescription("Detection jobs currently executing."),
	); err != nil {
		return nil, err
	}
	if met.WatchedSongs, err = m.Int64UpDownCounter("vocalgap.watcher.songs",
		metric.WithDescription("Song files currently under directory watch."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalgap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetection records one completed detection run with its latency.
func (m *Metrics) RecordDetection(ctx context.Context, method, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	)
	m.Detections.Add(ctx, 1, attrs)
	m.DetectionDuration.Record(ctx, seconds, attrs)
}

// RecordConfidence records the confidence score of one accepted detection.
func (m *Metrics) RecordConfidence(ctx context.Context, method string, score float64) {
	m.DetectionConfidence.Record(ctx, score,
		metric.WithAttributes(attribute.String("method", method)))
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, op string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
		))
}

// RecordEnrichmentFailure records one swallowed artifact failure.
func (m *Metrics) RecordEnrichmentFailure(ctx context.Context, artifact string) {
	m.EnrichmentFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("artifact", artifact)))
}
