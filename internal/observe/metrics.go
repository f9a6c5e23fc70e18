// Package observe provides application-wide observability primitives for
// podscrub: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all podscrub metrics.
const meterName = "github.com/MrWong99/podscrub"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-pipeline-stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// EpisodesProcessed counts finished pipeline runs. Use with attribute:
	//   attribute.String("status", "success"|"failed")
	EpisodesProcessed metric.Int64Counter

	// AdsRemoved counts ad spans cut out of episodes.
	AdsRemoved metric.Int64Counter

	// TimeSaved accumulates seconds of removed audio.
	TimeSaved metric.Float64Counter

	// LLMTokens counts classifier token usage. Use with attribute:
	//   attribute.String("direction", "input"|"output")
	LLMTokens metric.Int64Counter

	// FeedRefreshes counts feed sweeps per podcast. Use with attributes:
	//   attribute.String("podcast", ...), attribute.String("status", ...)
	FeedRefreshes metric.Int64Counter

	// QueueDepth tracks the number of queued episodes.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// pipeline stages that range from sub-second probes to hour-long
// transcriptions.
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("podscrub.stage.duration",
		metric.WithDescription("Latency of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EpisodesProcessed, err = m.Int64Counter("podscrub.episodes.processed",
		metric.WithDescription("Total finished pipeline runs by status."),
	); err != nil {
		return nil, err
	}
	if met.AdsRemoved, err = m.Int64Counter("podscrub.ads.removed",
		metric.WithDescription("Total ad spans removed from episodes."),
	); err != nil {
		return nil, err
	}
	if met.TimeSaved, err = m.Float64Counter("podscrub.time_saved",
		metric.WithDescription("Total seconds of removed audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("podscrub.llm.tokens",
		metric.WithDescription("Classifier token usage by direction."),
	); err != nil {
		return nil, err
	}
	if met.FeedRefreshes, err = m.Int64Counter("podscrub.feed.refreshes",
		metric.WithDescription("Feed refresh sweeps by podcast and status."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("podscrub.queue.depth",
		metric.WithDescription("Number of queued episodes."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("podscrub.http.request.duration",
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

// RecordStage records one stage duration in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordEpisode records one finished pipeline run.
func (m *Metrics) RecordEpisode(ctx context.Context, status string) {
	m.EpisodesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTokens records classifier token usage split by direction.
func (m *Metrics) RecordTokens(ctx context.Context, input, output int) {
	m.LLMTokens.Add(ctx, int64(input),
		metric.WithAttributes(attribute.String("direction", "input")),
	)
	m.LLMTokens.Add(ctx, int64(output),
		metric.WithAttributes(attribute.String("direction", "output")),
	)
}

// RecordFeedRefresh records one feed sweep outcome.
func (m *Metrics) RecordFeedRefresh(ctx context.Context, podcast, status string) {
	m.FeedRefreshes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("podcast", podcast),
			attribute.String("status", status),
		),
	)
}
