// Package observe provides process-wide observability primitives for
// opusloop: OpenTelemetry metrics, tracing, trace-aware structured logging,
// and HTTP middleware for the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level [DefaultMetrics] instance backs the global provider; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all opusloop metrics.
const meterName = "github.com/MrWong99/opusloop"

// Pipeline stages used as the "stage" attribute on frame counters.
const (
	StageCapture  = "capture"
	StageEncode   = "encode"
	StageDecode   = "decode"
	StagePlayback = "playback"
)

// Metrics holds all OpenTelemetry metric instruments for the process.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Frame counters ---

	// FramesCaptured counts PCM frames read from the capture source.
	FramesCaptured metric.Int64Counter

	// FramesEncoded counts frames the encoder turned into packets.
	FramesEncoded metric.Int64Counter

	// FramesDecoded counts packets the decoder turned back into PCM.
	FramesDecoded metric.Int64Counter

	// FramesPlayed counts frames accepted by the playback sink.
	FramesPlayed metric.Int64Counter

	// FramesDropped counts frames discarded anywhere in the pipeline. Use with
	// attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// --- Codec histograms ---

	// EncodeDuration tracks the time spent in a single Encode call.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks the time spent in a single Decode call.
	DecodeDuration metric.Float64Histogram

	// PacketBytes tracks the size of encoded packets.
	PacketBytes metric.Int64Histogram

	// --- Executors ---

	// ExecutorTaskErrors counts failed or panicking executor tasks. Use with
	// attribute:
	//   attribute.String("executor", ...)
	ExecutorTaskErrors metric.Int64Counter

	// --- Gauges ---

	// PipelineRunning is 1 while a capture session is streaming.
	PipelineRunning metric.Int64UpDownCounter

	// PipelineRestarts counts automatic restart attempts after a session
	// fault. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	PipelineRestarts metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// codecBuckets defines histogram bucket boundaries (in seconds) for a single
// codec call. A 20 ms frame must encode well under its own period.
var codecBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05,
}

// packetBuckets defines histogram bucket boundaries (in bytes) for encoded
// packet sizes.
var packetBuckets = []float64{
	8, 16, 32, 64, 128, 256, 512, 1024, 1276, 3828,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Frame counters.
	if met.FramesCaptured, err = m.Int64Counter("opusloop.frames.captured",
		metric.WithDescription("Total PCM frames read from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesEncoded, err = m.Int64Counter("opusloop.frames.encoded",
		metric.WithDescription("Total frames encoded into Opus packets."),
	); err != nil {
		return nil, err
	}
	if met.FramesDecoded, err = m.Int64Counter("opusloop.frames.decoded",
		metric.WithDescription("Total Opus packets decoded into PCM frames."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("opusloop.frames.played",
		metric.WithDescription("Total PCM frames written to the playback sink."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("opusloop.frames.dropped",
		metric.WithDescription("Total frames dropped by stage and reason."),
	); err != nil {
		return nil, err
	}

	// Codec histograms.
	if met.EncodeDuration, err = m.Float64Histogram("opusloop.encode.duration",
		metric.WithDescription("Latency of a single frame encode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(codecBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("opusloop.decode.duration",
		metric.WithDescription("Latency of a single packet decode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(codecBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PacketBytes, err = m.Int64Histogram("opusloop.packet.bytes",
		metric.WithDescription("Size of encoded Opus packets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(packetBuckets...),
	); err != nil {
		return nil, err
	}

	// Executors.
	if met.ExecutorTaskErrors, err = m.Int64Counter("opusloop.executor.task_errors",
		metric.WithDescription("Total executor tasks that failed or panicked, by executor."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PipelineRunning, err = m.Int64UpDownCounter("opusloop.pipeline.running",
		metric.WithDescription("1 while a capture session is streaming, else 0."),
	); err != nil {
		return nil, err
	}
	if met.PipelineRestarts, err = m.Int64Counter("opusloop.pipeline.restarts",
		metric.WithDescription("Automatic session restart attempts by result."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("opusloop.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
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

// RecordDropped records one dropped frame at the given stage.
func (m *Metrics) RecordDropped(ctx context.Context, stage, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		),
	)
}

// RecordEncode records a successful encode of n packet bytes that took d.
func (m *Metrics) RecordEncode(ctx context.Context, d time.Duration, n int) {
	m.FramesEncoded.Add(ctx, 1)
	m.EncodeDuration.Record(ctx, d.Seconds())
	m.PacketBytes.Record(ctx, int64(n))
}

// RecordDecode records a successful decode that took d.
func (m *Metrics) RecordDecode(ctx context.Context, d time.Duration) {
	m.FramesDecoded.Add(ctx, 1)
	m.DecodeDuration.Record(ctx, d.Seconds())
}

// RecordTaskError records a failed task on the named executor.
func (m *Metrics) RecordTaskError(ctx context.Context, executor string) {
	m.ExecutorTaskErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("executor", executor)),
	)
}

// RecordRestart records one automatic restart attempt.
func (m *Metrics) RecordRestart(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PipelineRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
