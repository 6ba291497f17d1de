package observe_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/parley-voice/parley/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all exported metric names.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			names[met.Name] = true
		}
	}
	return names
}

// ─── TestNewMetrics_CreatesAllInstruments ─────────────────────────────────────

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	if m.DialDuration == nil || m.AcquireDuration == nil || m.EvalDuration == nil {
		t.Error("expected all histograms to be initialised")
	}
	if m.SessionsStarted == nil || m.BargeIns == nil || m.AudioChunksSent == nil ||
		m.RecordingsSent == nil || m.TranscriptEntries == nil || m.ChannelErrors == nil {
		t.Error("expected all counters to be initialised")
	}
	if m.ActiveSessions == nil || m.PlaybackQueueDepth == nil {
		t.Error("expected all gauges to be initialised")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("expected HTTP histogram to be initialised")
	}
}

// ─── TestMetrics_RecordHelpers ────────────────────────────────────────────────

func TestMetrics_RecordHelpers(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStart(ctx, "ok")
	m.RecordSessionStart(ctx, "error")
	m.RecordTranscriptEntry(ctx, "user")
	m.RecordDial(ctx, 120*time.Millisecond)
	m.RecordEval(ctx, 2*time.Second, "ok")
	m.BargeIns.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)

	names := collect(t, reader)
	for _, want := range []string{
		"parley.sessions.started",
		"parley.transcript.entries",
		"parley.channel.dial.duration",
		"parley.eval.duration",
		"parley.barge_ins",
		"parley.active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not exported; have %v", want, names)
		}
	}
}

// ─── TestDefaultMetrics_IsSingleton ───────────────────────────────────────────

func TestDefaultMetrics_IsSingleton(t *testing.T) {
	t.Parallel()

	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Fatal("expected DefaultMetrics to return the same instance")
	}
}
