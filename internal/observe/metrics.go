// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parley-voice/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DialDuration tracks how long it takes to open a realtime session,
	// including the WebSocket handshake and initial configuration.
	DialDuration metric.Float64Histogram

	// AcquireDuration tracks device acquisition latency, which is dominated
	// by the user's permission decision on first use.
	AcquireDuration metric.Float64Histogram

	// EvalDuration tracks evaluation service round-trip latency.
	EvalDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts session starts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	SessionsStarted metric.Int64Counter

	// BargeIns counts user interruptions that cut off assistant playback.
	BargeIns metric.Int64Counter

	// AudioChunksSent counts microphone chunks appended to the channel.
	AudioChunksSent metric.Int64Counter

	// RecordingsSent counts archival video recordings sent over the channel.
	RecordingsSent metric.Int64Counter

	// TranscriptEntries counts completed utterances by speaker. Use with
	// attribute: attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// ChannelErrors counts non-fatal errors surfaced by the realtime channel.
	ChannelErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks frames queued but not yet rendered.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// interactive session operations: dials and acquisitions complete within
// seconds, evaluation submissions can take longer.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DialDuration, err = m.Float64Histogram("parley.channel.dial.duration",
		metric.WithDescription("Latency of opening a realtime session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AcquireDuration, err = m.Float64Histogram("parley.media.acquire.duration",
		metric.WithDescription("Latency of media device acquisition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvalDuration, err = m.Float64Histogram("parley.eval.duration",
		metric.WithDescription("Round-trip latency of evaluation submission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsStarted, err = m.Int64Counter("parley.sessions.started",
		metric.WithDescription("Total session start attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.barge_ins",
		metric.WithDescription("Total user interruptions that stopped assistant playback."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksSent, err = m.Int64Counter("parley.audio.chunks_sent",
		metric.WithDescription("Total microphone chunks appended to the channel."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsSent, err = m.Int64Counter("parley.video.recordings_sent",
		metric.WithDescription("Total archival recordings sent over the channel."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("parley.transcript.entries",
		metric.WithDescription("Total completed utterances by speaker."),
	); err != nil {
		return nil, err
	}
	if met.ChannelErrors, err = m.Int64Counter("parley.channel.errors",
		metric.WithDescription("Total non-fatal errors surfaced by the realtime channel."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("parley.playback.queue_depth",
		metric.WithDescription("Frames queued for playback but not yet rendered."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordSessionStart records a session start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, status string) {
	m.SessionsStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTranscriptEntry records a completed utterance by speaker.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordDial records the latency of a realtime session dial.
func (m *Metrics) RecordDial(ctx context.Context, elapsed time.Duration) {
	m.DialDuration.Record(ctx, elapsed.Seconds())
}

// RecordEval records the latency of an evaluation submission with its outcome.
func (m *Metrics) RecordEval(ctx context.Context, elapsed time.Duration, status string) {
	m.EvalDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}
