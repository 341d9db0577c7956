// Package observe provides application-wide observability primitives for
// morphsync: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all morphsync metrics.
const meterName = "github.com/MrWong99/morphsync"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// DecodeDuration tracks payload decode latency. Use with attribute:
	//   attribute.String("status", ...)
	DecodeDuration metric.Float64Histogram

	// ClipDuration tracks the audio length of clips that started playing.
	ClipDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// IngestMessages counts ingested payload messages. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	IngestMessages metric.Int64Counter

	// ClipsStarted counts clips accepted by the scheduler.
	ClipsStarted metric.Int64Counter

	// ClipsRejected counts clips the scheduler refused to start.
	ClipsRejected metric.Int64Counter

	// ClipsSuperseded counts queued clips replaced by a newer payload before
	// the playback loop picked them up.
	ClipsSuperseded metric.Int64Counter

	// FramesApplied counts blendshape frames emitted to the mesh sink.
	FramesApplied metric.Int64Counter

	// PlaybackStops counts stop exits. Use with attribute:
	//   attribute.String("reason", ...): finished, explicit, preempted, shutdown.
	PlaybackStops metric.Int64Counter

	// UnknownMorphs counts weights forwarded to the mesh sink under names
	// outside its morph target catalog. A nonzero rate usually means the
	// backend and the loaded mesh disagree about the character rig.
	UnknownMorphs metric.Int64Counter

	// UpstreamReconnects counts upstream dial attempts. Use with attribute:
	//   attribute.String("status", ...)
	UpstreamReconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveClip tracks whether a clip is currently live (0 or 1). Every
	// started clip is balanced by exactly one stop exit.
	ActiveClip metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for HTTP
// request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// decodeBuckets defines histogram bucket boundaries (in seconds) for payload
// decoding, which is orders of magnitude faster than a request round-trip.
var decodeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// clipSecondsBuckets defines histogram bucket boundaries (in seconds) for
// clip audio durations.
var clipSecondsBuckets = []float64{
	0.5, 1, 2, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("morphsync.decode.duration",
		metric.WithDescription("Latency of payload decoding by status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipDuration, err = m.Float64Histogram("morphsync.clip.duration",
		metric.WithDescription("Audio duration of clips that started playing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(clipSecondsBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("morphsync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.IngestMessages, err = m.Int64Counter("morphsync.ingest.messages",
		metric.WithDescription("Total ingested payload messages by transport and status."),
	); err != nil {
		return nil, err
	}
	if met.ClipsStarted, err = m.Int64Counter("morphsync.playback.clips_started",
		metric.WithDescription("Total clips accepted by the scheduler."),
	); err != nil {
		return nil, err
	}
	if met.ClipsRejected, err = m.Int64Counter("morphsync.playback.clips_rejected",
		metric.WithDescription("Total clips the scheduler refused to start."),
	); err != nil {
		return nil, err
	}
	if met.ClipsSuperseded, err = m.Int64Counter("morphsync.playback.clips_superseded",
		metric.WithDescription("Total queued clips replaced by a newer payload before playback."),
	); err != nil {
		return nil, err
	}
	if met.FramesApplied, err = m.Int64Counter("morphsync.playback.frames_applied",
		metric.WithDescription("Total blendshape frames emitted to the mesh sink."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStops, err = m.Int64Counter("morphsync.playback.stops",
		metric.WithDescription("Total stop exits by reason."),
	); err != nil {
		return nil, err
	}
	if met.UnknownMorphs, err = m.Int64Counter("morphsync.mesh.unknown_morphs",
		metric.WithDescription("Total weights applied under names outside the mesh catalog."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamReconnects, err = m.Int64Counter("morphsync.upstream.reconnects",
		metric.WithDescription("Total upstream dial attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveClip, err = m.Int64UpDownCounter("morphsync.playback.active",
		metric.WithDescription("Whether a clip is currently live (0 or 1)."),
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

// RecordIngest is a convenience method that records one ingested message
// with the standard attribute set.
func (m *Metrics) RecordIngest(ctx context.Context, transport, status string) {
	m.IngestMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// RecordDecodeDuration is a convenience method that records one decode
// latency sample tagged with its outcome.
func (m *Metrics) RecordDecodeDuration(ctx context.Context, seconds float64, status string) {
	m.DecodeDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordClipStarted records a successful scheduler start: the start counter,
// the live-clip gauge, and the clip duration histogram.
func (m *Metrics) RecordClipStarted(ctx context.Context, durationSeconds float64) {
	m.ClipsStarted.Add(ctx, 1)
	m.ActiveClip.Add(ctx, 1)
	m.ClipDuration.Record(ctx, durationSeconds)
}

// RecordClipRejected is a convenience method that records one scheduler
// rejection.
func (m *Metrics) RecordClipRejected(ctx context.Context) {
	m.ClipsRejected.Add(ctx, 1)
}

// RecordClipSuperseded is a convenience method that records one queued clip
// dropped for a newer payload.
func (m *Metrics) RecordClipSuperseded(ctx context.Context) {
	m.ClipsSuperseded.Add(ctx, 1)
}

// RecordFrameApplied is a convenience method that records one frame emission.
func (m *Metrics) RecordFrameApplied(ctx context.Context) {
	m.FramesApplied.Add(ctx, 1)
}

// RecordUnknownMorphs records weights forwarded under names the mesh
// catalog does not contain.
func (m *Metrics) RecordUnknownMorphs(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.UnknownMorphs.Add(ctx, int64(count))
}

// RecordPlaybackStop records one stop exit and balances the live-clip gauge.
// Reasons: "finished", "explicit", "preempted", "shutdown".
func (m *Metrics) RecordPlaybackStop(ctx context.Context, reason string) {
	m.PlaybackStops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.ActiveClip.Add(ctx, -1)
}

// RecordUpstreamReconnect is a convenience method that records one upstream
// dial attempt with its outcome.
func (m *Metrics) RecordUpstreamReconnect(ctx context.Context, status string) {
	m.UpstreamReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
