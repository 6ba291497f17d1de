package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-voice/parley/internal/capture"
	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/playback"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/transcript"
	"github.com/parley-voice/parley/pkg/media"
	mediamock "github.com/parley-voice/parley/pkg/media/mock"
	"github.com/parley-voice/parley/pkg/realtime"
	rtmock "github.com/parley-voice/parley/pkg/realtime/mock"
)

// fixture bundles a controller with all of its mocked collaborators.
type fixture struct {
	acquirer  *mediamock.Acquirer
	stream    *mediamock.Stream
	frames    chan media.AudioFrame
	sess      *rtmock.Session
	dialer    *rtmock.Dialer
	speaker   *mediamock.Speaker
	player    *playback.Player
	assembler *transcript.Assembler
	ctrl      *session.Controller
}

func newFixture(t *testing.T, mutate func(*session.Config)) *fixture {
	t.Helper()

	frames := make(chan media.AudioFrame, 16)
	f := &fixture{
		frames: frames,
		stream: &mediamock.Stream{
			AudioResult: &mediamock.AudioTrack{
				FramesChan:   frames,
				FormatResult: media.Format{SampleRate: 24000, Channels: 1},
			},
		},
		sess:      rtmock.NewSession(),
		speaker:   &mediamock.Speaker{},
		assembler: transcript.NewAssembler(),
	}
	f.acquirer = &mediamock.Acquirer{AcquireResult: f.stream}
	f.dialer = &rtmock.Dialer{DialResult: f.sess}
	f.player = playback.New(f.speaker)
	t.Cleanup(f.player.Close)

	cfg := session.Config{
		Acquirer:  f.acquirer,
		Dialer:    f.dialer,
		Player:    f.player,
		Assembler: f.assembler,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.ctrl = session.New(cfg)
	t.Cleanup(func() { _ = f.ctrl.Stop(context.Background()) })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// testEncoder hands the chunk callback to the test for manual feeding.
type testEncoder struct {
	mu      sync.Mutex
	onChunk func([]byte)
	stopped bool
}

func (e *testEncoder) Start(_ media.VideoTrack, onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChunk = onChunk
	return nil
}

func (e *testEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func (e *testEncoder) MIMEType() string { return "video/webm" }

func (e *testEncoder) emit(chunk []byte) {
	e.mu.Lock()
	cb := e.onChunk
	e.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

var _ capture.Encoder = (*testEncoder)(nil)

// stubEvaluator records the submitted transcript and returns a fixed verdict.
type stubEvaluator struct {
	mu      sync.Mutex
	entries []transcript.LabeledEntry
	verdict *eval.Evaluation
	err     error
}

func (s *stubEvaluator) Submit(_ context.Context, entries []transcript.LabeledEntry) (*eval.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	if s.err != nil {
		return nil, s.err
	}
	return s.verdict, nil
}

// ─── TestStart_TransitionsToRecording ─────────────────────────────────────────

func TestStart_TransitionsToRecording(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *session.Config) {
		cfg.SessionConfig = realtime.SessionConfig{Voice: "alloy"}
	})
	f.start(t)

	if got := f.ctrl.State(); got != session.StateRecording {
		t.Fatalf("state = %v, want recording", got)
	}
	if f.ctrl.ID() == "" {
		t.Error("expected a session id after Start")
	}
	if len(f.dialer.DialCalls) != 1 || f.dialer.DialCalls[0].Config.Voice != "alloy" {
		t.Errorf("dial calls = %+v, want one call with the configured voice", f.dialer.DialCalls)
	}
	if calls := f.acquirer.AcquireCalls; len(calls) != 1 || !calls[0].Constraints.Audio {
		t.Errorf("acquire calls = %+v, want one audio call", calls)
	}
}

// ─── TestStart_WhileRecordingFails ────────────────────────────────────────────

func TestStart_WhileRecordingFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, session.ErrNotIdle) {
		t.Fatalf("second Start error = %v, want ErrNotIdle", err)
	}
}

// ─── TestStart_MicFramesReachChannel ──────────────────────────────────────────

func TestStart_MicFramesReachChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	f.frames <- media.AudioFrame{Data: []byte{1, 2}, SampleRate: 24000, Channels: 1}
	f.frames <- media.AudioFrame{Data: []byte{3, 4}, SampleRate: 24000, Channels: 1}

	eventually(t, func() bool { return len(f.sess.AppendedChunks()) == 2 },
		"timed out waiting for mic chunks to reach the channel")

	chunks := f.sess.AppendedChunks()
	if string(chunks[0]) != "\x01\x02" || string(chunks[1]) != "\x03\x04" {
		t.Errorf("appended chunks = %v, want capture order preserved", chunks)
	}
}

// ─── TestStart_ConvertsMismatchedMicFormat ────────────────────────────────────

func TestStart_ConvertsMismatchedMicFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	// Stereo 48kHz device frame: 4 stereo frames of identical L/R samples.
	f.frames <- media.AudioFrame{
		Data:       []byte{1, 0, 1, 0, 2, 0, 2, 0, 3, 0, 3, 0, 4, 0, 4, 0},
		SampleRate: 48000,
		Channels:   2,
	}

	eventually(t, func() bool { return len(f.sess.AppendedChunks()) == 1 },
		"timed out waiting for converted chunk")

	// Downmixed to mono and downsampled to 24kHz: 2 samples, 4 bytes.
	if got := f.sess.AppendedChunks()[0]; len(got) != 4 {
		t.Errorf("converted chunk = %v (%d bytes), want 4 bytes", got, len(got))
	}
}

// ─── TestStart_ResetsPlayback ─────────────────────────────────────────────────

func TestStart_ResetsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	block := make(chan struct{})
	f.speaker.RenderBlock = block
	t.Cleanup(func() { close(block) })

	// Stale frames from before the session: one blocked in flight, two queued.
	for _, b := range []byte{1, 2, 3} {
		f.player.Play(media.AudioFrame{Data: []byte{b}, SampleRate: 24000, Channels: 1})
	}
	eventually(t, func() bool { return f.player.QueueLen() == 2 },
		"queued frames never piled up behind the blocked render")

	f.start(t)

	if got := f.player.QueueLen(); got != 0 {
		t.Errorf("expected Start to clear the playback queue, %d frames left", got)
	}
	if f.speaker.FlushCount() == 0 {
		t.Error("expected Start to flush the speaker")
	}
	if got := f.speaker.RenderedFrames(); len(got) != 0 {
		t.Errorf("expected stale in-flight frame to be cut off, rendered %d frames", len(got))
	}
}

// ─── TestStart_DialFailureReleasesStream ──────────────────────────────────────

func TestStart_DialFailureReleasesStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.dialer.DialError = errors.New("handshake refused")

	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when dial fails")
	}
	if !f.stream.Released() {
		t.Error("expected acquired stream to be released after dial failure")
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle after failed start", got)
	}
}

// ─── TestStop_TearsDownInOrder ────────────────────────────────────────────────

func TestStop_TearsDownInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if f.sess.CallCountClearInput != 1 {
		t.Errorf("ClearInput called %d times, want 1", f.sess.CallCountClearInput)
	}
	if !f.sess.Closed() {
		t.Error("expected channel session to be closed")
	}
	if !f.stream.Released() {
		t.Error("expected device stream to be released")
	}
}

// ─── TestStop_FromIdleIsNoop ──────────────────────────────────────────────────

func TestStop_FromIdleIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop from idle: %v", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

// ─── TestStop_CancelsPendingStart ─────────────────────────────────────────────

// signalAcquirer closes began once Acquire has been entered.
type signalAcquirer struct {
	inner media.Acquirer
	began chan struct{}
	once  sync.Once
}

func (a *signalAcquirer) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	a.once.Do(func() { close(a.began) })
	return a.inner.Acquire(ctx, c)
}

func TestStop_CancelsPendingStart(t *testing.T) {
	t.Parallel()

	delay := make(chan struct{})
	began := make(chan struct{})
	var signal *signalAcquirer

	f := newFixture(t, func(cfg *session.Config) {
		inner := cfg.Acquirer.(*mediamock.Acquirer)
		inner.AcquireDelay = delay
		signal = &signalAcquirer{inner: inner, began: began}
		cfg.Acquirer = signal
	})

	startErr := make(chan error, 1)
	go func() { startErr <- f.ctrl.Start(context.Background()) }()

	<-began
	// Acquisition is resolving; the user presses stop.
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop during acquisition: %v", err)
	}
	close(delay)

	if err := <-startErr; !errors.Is(err, session.ErrStartCancelled) {
		t.Fatalf("Start error = %v, want ErrStartCancelled", err)
	}
	if !f.stream.Released() {
		t.Error("expected late-acquired stream to be released")
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}

	// The cancelled attempt must not poison the next one.
	f.start(t)
	if got := f.ctrl.State(); got != session.StateRecording {
		t.Errorf("state after restart = %v, want recording", got)
	}
}

// ─── TestEventLoop_RendersAssistantAudio ──────────────────────────────────────

func TestEventLoop_RendersAssistantAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	f.sess.EmitAudio([]byte{9, 9})
	eventually(t, func() bool { return len(f.speaker.RenderedFrames()) == 1 },
		"timed out waiting for assistant audio to render")

	if got := f.speaker.RenderedFrames()[0]; string(got) != "\x09\x09" {
		t.Errorf("rendered frame = %v, want [9 9]", got)
	}
}

// ─── TestEventLoop_BargeInStopsPlayback ───────────────────────────────────────

func TestEventLoop_BargeInStopsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	f.sess.EmitAudio([]byte{1, 1})
	eventually(t, func() bool { return len(f.speaker.RenderedFrames()) == 1 },
		"timed out waiting for playback before barge-in")

	// Start itself flushes once while resetting playback; barge-in must add
	// a flush of its own.
	base := f.speaker.FlushCount()
	f.sess.EmitSpeechStarted()
	eventually(t, func() bool { return f.speaker.FlushCount() > base },
		"timed out waiting for barge-in to flush playback")

	// Barge-in interrupts playback only; the session keeps recording.
	if got := f.ctrl.State(); got != session.StateRecording {
		t.Errorf("state after barge-in = %v, want recording", got)
	}
}

// ─── TestEventLoop_AssemblesTranscripts ───────────────────────────────────────

func TestEventLoop_AssemblesTranscripts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.start(t)

	f.sess.EmitTranscript(realtime.TranscriptEvent{Speaker: realtime.SpeakerUser, Text: "hello"})
	f.sess.EmitTranscript(realtime.TranscriptEvent{Speaker: realtime.SpeakerAssistant, Text: "hi"})

	eventually(t, func() bool { return f.assembler.Len() == 2 },
		"timed out waiting for transcript entries")

	entries := f.assembler.Entries()
	if entries[0].Speaker != realtime.SpeakerUser || entries[0].Text != "hello" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Speaker != realtime.SpeakerAssistant || entries[1].Text != "hi" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

// ─── TestVideo_ToggleProducesRecording ────────────────────────────────────────

func TestVideo_ToggleProducesRecording(t *testing.T) {
	t.Parallel()

	enc := &testEncoder{}
	var archived []media.VideoRecording
	f := newFixture(t, func(cfg *session.Config) {
		cfg.Video = true
		cfg.NewEncoder = func() capture.Encoder { return enc }
		cfg.OnRecording = func(rec media.VideoRecording) { archived = append(archived, rec) }
	})
	f.stream.VideoResult = &mediamock.VideoTrack{}
	f.start(t)

	if err := f.ctrl.StartVideo(); err != nil {
		t.Fatalf("StartVideo: %v", err)
	}
	if !f.ctrl.VideoActive() {
		t.Fatal("expected video to be active")
	}
	if err := f.ctrl.StartVideo(); !errors.Is(err, session.ErrVideoActive) {
		t.Fatalf("second StartVideo error = %v, want ErrVideoActive", err)
	}

	enc.emit([]byte{1, 2})
	enc.emit([]byte{3})

	if err := f.ctrl.StopVideo(context.Background()); err != nil {
		t.Fatalf("StopVideo: %v", err)
	}
	if f.ctrl.VideoActive() {
		t.Fatal("expected video to be inactive after StopVideo")
	}

	rec := f.ctrl.LastRecording()
	if rec == nil {
		t.Fatal("expected a retained recording")
	}
	if string(rec.Data) != "\x01\x02\x03" || rec.MIMEType != "video/webm" {
		t.Errorf("recording = %+v", rec)
	}
	if len(archived) != 1 {
		t.Errorf("archival sink received %d recordings, want 1", len(archived))
	}
	if len(f.sess.SentRecordings) != 1 {
		t.Errorf("channel received %d recordings, want 1", len(f.sess.SentRecordings))
	}
}

// ─── TestVideo_RequiresLiveSession ────────────────────────────────────────────

func TestVideo_RequiresLiveSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.ctrl.StartVideo(); !errors.Is(err, session.ErrNotRecording) {
		t.Fatalf("StartVideo while idle = %v, want ErrNotRecording", err)
	}

	f.start(t)
	if err := f.ctrl.StopVideo(context.Background()); !errors.Is(err, session.ErrVideoInactive) {
		t.Fatalf("StopVideo without video = %v, want ErrVideoInactive", err)
	}
}

// ─── TestVideo_NoCameraTrack ──────────────────────────────────────────────────

func TestVideo_NoCameraTrack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil) // audio-only stream
	f.start(t)

	if err := f.ctrl.StartVideo(); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("StartVideo without camera = %v, want ErrDeviceUnavailable", err)
	}
}

// ─── TestEvaluate_SubmitsLabeledTranscript ────────────────────────────────────

func TestEvaluate_SubmitsLabeledTranscript(t *testing.T) {
	t.Parallel()

	evaluator := &stubEvaluator{verdict: &eval.Evaluation{Classification: "pass", OverallScore: 0.8}}
	f := newFixture(t, func(cfg *session.Config) {
		cfg.Evaluator = evaluator
	})
	f.start(t)

	f.sess.EmitTranscript(realtime.TranscriptEvent{Speaker: realtime.SpeakerUser, Text: "question"})
	f.sess.EmitTranscript(realtime.TranscriptEvent{Speaker: realtime.SpeakerAssistant, Text: "answer"})
	eventually(t, func() bool { return f.assembler.Len() == 2 },
		"timed out waiting for transcript entries")

	if f.ctrl.CanEvaluate() {
		t.Error("evaluation must not be available while recording")
	}
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !f.ctrl.CanEvaluate() {
		t.Fatal("expected evaluation to be available after stop")
	}

	verdict, err := f.ctrl.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Classification != "pass" {
		t.Errorf("classification = %q, want pass", verdict.Classification)
	}
	if len(evaluator.entries) != 2 ||
		evaluator.entries[0].Speaker != "Advisor" ||
		evaluator.entries[1].Speaker != "Client" {
		t.Errorf("submitted entries = %+v, want Advisor then Client", evaluator.entries)
	}
}

// ─── TestEvaluate_NothingToEvaluate ───────────────────────────────────────────

func TestEvaluate_NothingToEvaluate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *session.Config) {
		cfg.Evaluator = &stubEvaluator{verdict: &eval.Evaluation{Classification: "pass"}}
	})

	if _, err := f.ctrl.Evaluate(context.Background()); !errors.Is(err, session.ErrNothingToEvaluate) {
		t.Fatalf("Evaluate with empty record = %v, want ErrNothingToEvaluate", err)
	}
}

// ─── TestUpdateMapping_AffectsNextEvaluation ──────────────────────────────────

func TestUpdateMapping_AffectsNextEvaluation(t *testing.T) {
	t.Parallel()

	evaluator := &stubEvaluator{verdict: &eval.Evaluation{Classification: "pass"}}
	f := newFixture(t, func(cfg *session.Config) {
		cfg.Evaluator = evaluator
	})
	f.start(t)
	f.sess.EmitTranscript(realtime.TranscriptEvent{Speaker: realtime.SpeakerUser, Text: "hi"})
	eventually(t, func() bool { return f.assembler.Len() == 1 },
		"timed out waiting for transcript entry")
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	f.ctrl.UpdateMapping(transcript.SpeakerMapping{User: "Agent", Assistant: "Caller"})
	if _, err := f.ctrl.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evaluator.entries[0].Speaker != "Agent" {
		t.Errorf("speaker label = %q, want Agent", evaluator.entries[0].Speaker)
	}
}
