// Package session coordinates one live conversation: device acquisition,
// the realtime channel, capture pipelines, playback, transcript assembly,
// and evaluation of the finished conversation.
//
// The [Controller] is a small state machine with three states:
//
//	Idle      — no session; devices released.
//	Recording — microphone audio streams to the channel, assistant audio
//	            plays back, and video may be toggled on and off.
//	Stopping  — teardown in progress; transient.
//
// State transitions are serialised by the controller's mutex. The channel
// event loop runs on its own goroutine and is joined during Stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-voice/parley/internal/capture"
	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/observe"
	"github.com/parley-voice/parley/internal/playback"
	"github.com/parley-voice/parley/internal/transcript"
	"github.com/parley-voice/parley/pkg/media"
	"github.com/parley-voice/parley/pkg/realtime"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no session is active and no devices are held.
	StateIdle State = iota

	// StateRecording means a session is live: audio streams both ways.
	StateRecording

	// StateStopping means teardown is in progress.
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotIdle is returned by Start when a session is already live.
	ErrNotIdle = errors.New("session: not idle")

	// ErrNotRecording is returned by operations that require a live session.
	ErrNotRecording = errors.New("session: not recording")

	// ErrStartCancelled is returned by Start when Stop was requested while
	// device acquisition was still resolving. The acquired stream has been
	// released.
	ErrStartCancelled = errors.New("session: start cancelled")

	// ErrVideoActive is returned by StartVideo when video is already running.
	ErrVideoActive = errors.New("session: video already active")

	// ErrVideoInactive is returned by StopVideo when video is not running.
	ErrVideoInactive = errors.New("session: video not active")

	// ErrNothingToEvaluate is returned by Evaluate when no finished
	// conversation is available.
	ErrNothingToEvaluate = errors.New("session: nothing to evaluate")
)

// Evaluator submits a labeled transcript for scoring. Implemented by
// [eval.Client].
type Evaluator interface {
	Submit(ctx context.Context, entries []transcript.LabeledEntry) (*eval.Evaluation, error)
}

// Config carries the collaborators a [Controller] needs.
type Config struct {
	// Acquirer opens microphone and camera streams.
	Acquirer media.Acquirer

	// Dialer opens realtime sessions.
	Dialer realtime.Dialer

	// Video requests a camera track alongside the microphone at acquisition
	// time. Without it, StartVideo fails with [media.ErrDeviceUnavailable].
	Video bool

	// SessionConfig is passed to the dialer for every session.
	SessionConfig realtime.SessionConfig

	// Player renders assistant audio.
	Player *playback.Player

	// Assembler accumulates the conversation record.
	Assembler *transcript.Assembler

	// Evaluator scores finished conversations. Optional; when nil, Evaluate
	// returns an error.
	Evaluator Evaluator

	// Mapping labels speakers for evaluation submission. Zero value falls
	// back to [transcript.DefaultSpeakerMapping].
	Mapping transcript.SpeakerMapping

	// Preview receives live camera frames while video is active. Optional.
	Preview capture.VideoSink

	// NewEncoder builds a fresh encoder for each video recording. Optional;
	// when nil, StartVideo streams preview frames only.
	NewEncoder func() capture.Encoder

	// OnRecording receives the finished archival recording after StopVideo.
	// Optional; the recording is also retained on the controller and sent
	// over the live channel.
	OnRecording func(media.VideoRecording)

	// OutputFormat is the PCM format of assistant audio from the channel.
	// Zero value means 24kHz mono.
	OutputFormat media.Format

	// Metrics records instrumentation. Nil means [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller drives the session lifecycle. Safe for concurrent use.
type Controller struct {
	cfg     Config
	metrics *observe.Metrics

	mu            sync.Mutex
	state         State
	starting      bool
	startDeadline bool // Stop arrived while acquisition was resolving
	id            string

	stream   media.Stream
	sess     realtime.Session
	capturer *capture.AudioCapturer

	videoActive bool
	sampler     *capture.FrameSampler
	recorder    *capture.ChunkRecorder

	lastRecording *media.VideoRecording

	loopWG sync.WaitGroup
}

// New creates an idle [Controller].
func New(cfg Config) *Controller {
	if cfg.OutputFormat == (media.Format{}) {
		cfg.OutputFormat = media.Format{SampleRate: 24000, Channels: 1}
	}
	if (cfg.Mapping == transcript.SpeakerMapping{}) {
		cfg.Mapping = transcript.DefaultSpeakerMapping
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{cfg: cfg, metrics: m, state: StateIdle}
}

// UpdateSessionConfig replaces the channel session config used by subsequent
// Start calls. A live session is unaffected.
func (c *Controller) UpdateSessionConfig(sc realtime.SessionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.SessionConfig = sc
}

// UpdateMapping replaces the speaker labels used by subsequent Evaluate calls.
func (c *Controller) UpdateMapping(m transcript.SpeakerMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Mapping = m
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starting {
		// Acquisition in flight still presents as idle to callers; the
		// session is not live until Start returns.
		return StateIdle
	}
	return c.state
}

// ID returns the identifier of the current or most recent session, or the
// empty string if no session was ever started.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// VideoActive reports whether video capture is currently running.
func (c *Controller) VideoActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoActive
}

// LastRecording returns the most recent archival recording, or nil. The
// recording survives session teardown so it can be uploaded afterwards.
func (c *Controller) LastRecording() *media.VideoRecording {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRecording
}

// Start acquires the microphone, dials the realtime channel, and begins
// streaming. Only valid from idle. Acquisition can take arbitrarily long
// (the user may be looking at a permission prompt); if Stop is called while
// acquisition is still resolving, the late stream is released and Start
// returns [ErrStartCancelled].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.starting {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.starting = true
	c.startDeadline = false
	c.id = uuid.NewString()
	id := c.id
	sessionCfg := c.cfg.SessionConfig
	c.mu.Unlock()

	log := slog.With("session_id", id)

	acquireStart := time.Now()
	stream, err := c.cfg.Acquirer.Acquire(ctx, media.Constraints{Audio: true, Video: c.cfg.Video})
	c.metrics.AcquireDuration.Record(ctx, time.Since(acquireStart).Seconds())
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.metrics.RecordSessionStart(ctx, "error")
		return fmt.Errorf("session: acquire media: %w", err)
	}

	// The user may have pressed stop while the permission prompt was open.
	c.mu.Lock()
	if c.startDeadline {
		c.starting = false
		c.mu.Unlock()
		if err := stream.Release(); err != nil {
			log.Warn("release of late-acquired stream failed", "err", err)
		}
		c.metrics.RecordSessionStart(ctx, "cancelled")
		return ErrStartCancelled
	}
	c.mu.Unlock()

	dialStart := time.Now()
	sess, err := c.cfg.Dialer.Dial(ctx, sessionCfg)
	c.metrics.RecordDial(ctx, time.Since(dialStart))
	if err != nil {
		_ = stream.Release()
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.metrics.RecordSessionStart(ctx, "error")
		return fmt.Errorf("session: dial channel: %w", err)
	}

	sess.OnError(func(err error) {
		c.metrics.ChannelErrors.Add(context.Background(), 1)
		log.Warn("channel error", "err", err)
	})

	// The channel expects a fixed PCM format; mic frames in other layouts
	// are converted on the way out.
	conv := &media.FormatConverter{Target: c.cfg.OutputFormat}
	capturer := capture.NewAudioCapturer(func(frame media.AudioFrame) {
		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			return
		}
		if err := sess.AppendAudio(frame.Data); err != nil {
			if !errors.Is(err, realtime.ErrChannelClosed) {
				log.Warn("append audio failed", "err", err)
			}
			return
		}
		c.metrics.AudioChunksSent.Add(context.Background(), 1)
	})
	if err := capturer.Start(stream.Audio()); err != nil {
		_ = sess.Close()
		_ = stream.Release()
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.metrics.RecordSessionStart(ctx, "error")
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.mu.Lock()
	if c.startDeadline {
		// Stop raced the dial. Roll everything back.
		c.starting = false
		c.mu.Unlock()
		capturer.Stop()
		_ = sess.Close()
		_ = stream.Release()
		c.metrics.RecordSessionStart(ctx, "cancelled")
		return ErrStartCancelled
	}
	c.stream = stream
	c.sess = sess
	c.capturer = capturer
	c.state = StateRecording
	c.starting = false
	c.mu.Unlock()

	// Fresh playback queue: nothing left over from a previous session may
	// render into the new one.
	c.cfg.Player.Reset()

	c.loopWG.Add(1)
	go c.eventLoop(sess, log)

	c.metrics.RecordSessionStart(ctx, "ok")
	c.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("session started")
	return nil
}

// eventLoop demultiplexes the channel's output until all of its channels
// close, which happens on session close or transport failure.
//
// Assistant audio is only played while the session is recording; frames that
// arrive during teardown are dropped rather than queued. A speech-started
// event interrupts playback immediately but does not change session state.
func (c *Controller) eventLoop(sess realtime.Session, log *slog.Logger) {
	defer c.loopWG.Done()

	audio := sess.Audio()
	transcripts := sess.Transcripts()
	speech := sess.SpeechStarted()

	for audio != nil || transcripts != nil || speech != nil {
		select {
		case chunk, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if c.State() != StateRecording {
				continue
			}
			c.cfg.Player.Play(media.AudioFrame{
				Data:       chunk,
				SampleRate: c.cfg.OutputFormat.SampleRate,
				Channels:   c.cfg.OutputFormat.Channels,
			})

		case _, ok := <-speech:
			if !ok {
				speech = nil
				continue
			}
			// Barge-in: the user started talking over the assistant.
			c.cfg.Player.Stop()
			c.metrics.BargeIns.Add(context.Background(), 1)
			log.Debug("barge-in: playback interrupted")

		case ev, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			c.cfg.Assembler.Append(ev.Speaker, ev.Text)
			c.metrics.RecordTranscriptEntry(context.Background(), ev.Speaker.String())
		}
	}

	if err := sess.Err(); err != nil && !errors.Is(err, realtime.ErrChannelClosed) {
		log.Warn("channel terminated", "err", err)
	}
}

// Stop tears the session down: video capture first, then the microphone
// feed, playback, the channel, and finally the devices. Calling Stop while
// acquisition is still resolving cancels the pending Start instead.
// Stop from idle is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.startDeadline = true
		c.mu.Unlock()
		return nil
	}
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	stream := c.stream
	sess := c.sess
	capturer := c.capturer
	videoActive := c.videoActive
	id := c.id
	c.mu.Unlock()

	log := slog.With("session_id", id)

	if videoActive {
		if err := c.StopVideo(ctx); err != nil && !errors.Is(err, ErrVideoInactive) {
			log.Warn("stop video during teardown failed", "err", err)
		}
	}

	// Order matters: stop feeding the channel before closing it, and silence
	// playback before releasing the output device.
	capturer.Stop()
	c.cfg.Player.Stop()

	if err := sess.ClearInput(); err != nil && !errors.Is(err, realtime.ErrChannelClosed) {
		log.Warn("clear input failed", "err", err)
	}

	var errs []error
	if err := sess.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	// The event loop exits once the closed session's channels drain.
	c.loopWG.Wait()

	if err := stream.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release devices: %w", err))
	}

	// Release closed the frame channel; empty any buffered tail so the
	// device side is never left blocked on a full channel.
	if track := stream.Audio(); track != nil {
		media.Drain(track.Frames())
	}

	c.mu.Lock()
	c.stream = nil
	c.sess = nil
	c.capturer = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, -1)
	log.Info("session stopped")

	if len(errs) > 0 {
		return fmt.Errorf("session: stop: %w", errors.Join(errs...))
	}
	return nil
}

// StartVideo begins camera capture on the live session: preview frames flow
// to the configured sink and, when an encoder factory is configured, an
// archival recording starts. Video can be toggled any number of times per
// session; each toggle produces its own recording.
func (c *Controller) StartVideo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return ErrNotRecording
	}
	if c.videoActive {
		return ErrVideoActive
	}

	track := c.stream.Video()
	if track == nil {
		return fmt.Errorf("session: %w", media.ErrDeviceUnavailable)
	}

	if c.cfg.Preview != nil {
		c.sampler = capture.NewFrameSampler(c.cfg.Preview)
		if err := c.sampler.Start(track); err != nil {
			c.sampler = nil
			return fmt.Errorf("session: start sampler: %w", err)
		}
	}

	if c.cfg.NewEncoder != nil {
		c.recorder = capture.NewChunkRecorder(c.cfg.NewEncoder(), c.recordingSink())
		if err := c.recorder.Start(track); err != nil {
			if c.sampler != nil {
				c.sampler.Stop()
				c.sampler = nil
			}
			c.recorder = nil
			return fmt.Errorf("session: start recorder: %w", err)
		}
	}

	c.videoActive = true
	slog.Info("video capture started", "session_id", c.id)
	return nil
}

// StopVideo halts camera capture. The finished recording is retained on the
// controller, handed to the OnRecording sink, and sent over the channel.
func (c *Controller) StopVideo(ctx context.Context) error {
	c.mu.Lock()
	if !c.videoActive {
		c.mu.Unlock()
		return ErrVideoInactive
	}
	sampler := c.sampler
	recorder := c.recorder
	c.sampler = nil
	c.recorder = nil
	c.videoActive = false
	id := c.id
	c.mu.Unlock()

	if sampler != nil {
		sampler.Stop()
	}

	if recorder != nil {
		recorder.Stop()
	}

	slog.Info("video capture stopped", "session_id", id)
	return nil
}

// recordingSink retains the finished recording, forwards it to the archival
// sink, and ships it over the channel while the session is still open.
func (c *Controller) recordingSink() capture.RecordingSink {
	return func(rec media.VideoRecording) {
		c.mu.Lock()
		c.lastRecording = &rec
		sess := c.sess
		c.mu.Unlock()

		if c.cfg.OnRecording != nil {
			c.cfg.OnRecording(rec)
		}

		if sess != nil {
			if err := sess.SendRecording(rec); err != nil {
				if !errors.Is(err, realtime.ErrChannelClosed) {
					slog.Warn("send recording failed", "err", err)
				}
				return
			}
			c.metrics.RecordingsSent.Add(context.Background(), 1)
		}
	}
}

// CanEvaluate reports whether a finished conversation is ready for scoring:
// the session must be idle and the record non-empty.
func (c *Controller) CanEvaluate() bool {
	return c.State() == StateIdle && c.cfg.Assembler.Len() > 0
}

// Evaluate submits the finished conversation for scoring. Valid only when
// [Controller.CanEvaluate] is true.
func (c *Controller) Evaluate(ctx context.Context) (*eval.Evaluation, error) {
	if c.cfg.Evaluator == nil {
		return nil, fmt.Errorf("session: no evaluator configured")
	}
	if !c.CanEvaluate() {
		return nil, ErrNothingToEvaluate
	}

	c.mu.Lock()
	mapping := c.cfg.Mapping
	c.mu.Unlock()
	entries := c.cfg.Assembler.Labeled(mapping)

	start := time.Now()
	verdict, err := c.cfg.Evaluator.Submit(ctx, entries)
	if err != nil {
		c.metrics.RecordEval(ctx, time.Since(start), "error")
		return nil, err
	}
	c.metrics.RecordEval(ctx, time.Since(start), "ok")
	return verdict, nil
}
