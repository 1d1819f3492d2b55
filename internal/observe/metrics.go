// Package observe provides application-wide observability primitives for
// echogate: OpenTelemetry metrics, distributed tracing, and the Prometheus
// exporter bridge that ties them together.
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

// meterName is the instrumentation scope name used for all echogate metrics.
const meterName = "github.com/MrWong99/echogate"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognizeDuration tracks speech-to-text transcription latency.
	RecognizeDuration metric.Float64Histogram

	// RespondDuration tracks response-generation latency.
	RespondDuration metric.Float64Histogram

	// SynthesizeDuration tracks speech-synthesis latency.
	SynthesizeDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end utterance-to-audio latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsRejected counts admissions refused for capacity.
	SessionsRejected metric.Int64Counter

	// FramesMalformed counts inbound messages dropped as malformed.
	FramesMalformed metric.Int64Counter

	// Utterances counts utterances emitted by segmentation.
	Utterances metric.Int64Counter

	// QueueRejections counts work submissions refused for backpressure.
	QueueRejections metric.Int64Counter

	// PipelineFailures counts failed work items. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineFailures metric.Int64Counter

	// PlaybackDelivered counts playback messages transmitted to clients.
	PlaybackDelivered metric.Int64Counter

	// PlaybackDiscarded counts playback results dropped because the target
	// session had already closed.
	PlaybackDiscarded metric.Int64Counter

	// LivenessTimeouts counts sessions reaped by the liveness monitor.
	LivenessTimeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of currently tracked sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of items waiting in the work queue.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognizeDuration, err = m.Float64Histogram("echogate.recognize.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RespondDuration, err = m.Float64Histogram("echogate.respond.duration",
		metric.WithDescription("Latency of response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("echogate.synthesize.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("echogate.pipeline.duration",
		metric.WithDescription("End-to-end utterance-to-audio latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsRejected, err = m.Int64Counter("echogate.sessions.rejected",
		metric.WithDescription("Total session admissions refused at capacity."),
	); err != nil {
		return nil, err
	}
	if met.FramesMalformed, err = m.Int64Counter("echogate.frames.malformed",
		metric.WithDescription("Total inbound messages dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("echogate.utterances",
		metric.WithDescription("Total utterances emitted by segmentation."),
	); err != nil {
		return nil, err
	}
	if met.QueueRejections, err = m.Int64Counter("echogate.queue.rejections",
		metric.WithDescription("Total work submissions refused for backpressure."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFailures, err = m.Int64Counter("echogate.pipeline.failures",
		metric.WithDescription("Total failed work items by stage."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDelivered, err = m.Int64Counter("echogate.playback.delivered",
		metric.WithDescription("Total playback messages transmitted to clients."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDiscarded, err = m.Int64Counter("echogate.playback.discarded",
		metric.WithDescription("Total playback results dropped for closed sessions."),
	); err != nil {
		return nil, err
	}
	if met.LivenessTimeouts, err = m.Int64Counter("echogate.liveness.timeouts",
		metric.WithDescription("Total sessions reaped after a liveness timeout."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("echogate.sessions.active",
		metric.WithDescription("Number of currently tracked client sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("echogate.queue.depth",
		metric.WithDescription("Number of items waiting in the work queue."),
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

// RecordPipelineFailure is a convenience method that records a pipeline
// failure counter increment with the stage attribute.
func (m *Metrics) RecordPipelineFailure(ctx context.Context, stage string) {
	m.PipelineFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
