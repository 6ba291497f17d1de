// Package miniaudio implements [media.Acquirer] (audio only) and
// [media.Speaker] on top of the miniaudio library via malgo.
//
// Capture frames are delivered at the device's native period cadence as PCM16
// little-endian; the package never reframes or resamples. Playback is fed
// through an internal byte queue drained by the device callback, so a Flush
// cuts off buffered audio with no audible residue.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/parley-voice/parley/pkg/media"
)

// Compile-time assertions that the types satisfy the media interfaces.
var _ media.Acquirer = (*Acquirer)(nil)
var _ media.Speaker = (*Speaker)(nil)

const (
	// defaultSampleRate matches the PCM16 format expected by the realtime
	// channel, so captured frames need no conversion on the hot path.
	defaultSampleRate = 24000

	defaultChannels = 1

	// framesBuf is the capture channel depth. At 10ms periods this absorbs
	// roughly 640ms of consumer stall before frames are dropped.
	framesBuf = 64

	// periodMillis is the device period; it defines the native chunk cadence
	// of captured frames.
	periodMillis = 10
)

// Config selects the capture/playback format. The zero value is replaced by
// 24kHz mono.
type Config struct {
	SampleRate int
	Channels   int
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = defaultChannels
	}
	return c
}

// ─── Acquirer ─────────────────────────────────────────────────────────────────

// Acquirer opens microphone capture streams. It supports audio constraints
// only; combine with a camera backend via [media.Mux] for joint acquisition.
type Acquirer struct {
	cfg Config
}

// NewAcquirer creates a microphone acquirer with the given format config.
func NewAcquirer(cfg Config) *Acquirer {
	return &Acquirer{cfg: cfg.withDefaults()}
}

// Acquire implements [media.Acquirer]. Only Constraints.Audio is supported;
// requesting video returns [media.ErrDeviceUnavailable].
func (a *Acquirer) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if c.Video {
		return nil, fmt.Errorf("miniaudio: no camera backend: %w", media.ErrDeviceUnavailable)
	}
	if !c.Audio {
		return nil, fmt.Errorf("miniaudio: empty constraints: %w", media.ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w: %v", media.ErrDeviceUnavailable, err)
	}

	st := &stream{
		ctx:     mctx,
		frames:  make(chan media.AudioFrame, framesBuf),
		format:  media.Format{SampleRate: a.cfg.SampleRate, Channels: a.cfg.Channels},
		started: time.Now(),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(a.cfg.Channels)
	devCfg.SampleRate = uint32(a.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: st.onCapture,
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: init capture device: %w: %v", media.ErrDeviceUnavailable, err)
	}
	st.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: start capture: %w: %v", media.ErrPermissionDenied, err)
	}

	return st, nil
}

// ─── stream ───────────────────────────────────────────────────────────────────

// stream is a live microphone capture handle. It implements both
// [media.Stream] and [media.AudioTrack].
type stream struct {
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	frames  chan media.AudioFrame
	format  media.Format
	started time.Time

	mu       sync.Mutex
	released bool
}

func (s *stream) Audio() media.AudioTrack { return s }
func (s *stream) Video() media.VideoTrack { return nil }

func (s *stream) Frames() <-chan media.AudioFrame { return s.frames }
func (s *stream) Format() media.Format            { return s.format }

// onCapture runs on the device's audio thread. It copies the period buffer
// into a fresh frame; a full consumer drops the frame rather than blocking
// the audio thread.
func (s *stream) onCapture(_, input []byte, _ uint32) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if len(input) == 0 {
		return
	}
	data := make([]byte, len(input))
	copy(data, input)
	frame := media.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  time.Since(s.started),
	}
	select {
	case s.frames <- frame:
	default:
		slog.Warn("miniaudio: capture frame dropped, consumer too slow")
	}
}

// Release implements [media.Stream]. Idempotent.
func (s *stream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	_ = s.dev.Stop()
	s.dev.Uninit()
	_ = s.ctx.Uninit()
	s.ctx.Free()
	close(s.frames)
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker renders PCM16 frames through the default output device. Frames are
// appended to an internal byte queue drained by the device callback; the
// device plays silence on underrun.
type Speaker struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu       sync.Mutex
	buf      []byte
	written  int64 // total bytes appended
	consumed int64 // total bytes handed to the device (or flushed)
	closed   bool

	// wake is signalled by the device callback after consuming bytes so that
	// blocked Render calls can re-check their completion target.
	wake chan struct{}

	format media.Format
}

// NewSpeaker opens the default playback device in the given format.
func NewSpeaker(cfg Config) (*Speaker, error) {
	cfg = cfg.withDefaults()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w: %v", media.ErrDeviceUnavailable, err)
	}

	sp := &Speaker{
		ctx:    mctx,
		wake:   make(chan struct{}, 1),
		format: media.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: sp.onPlayback,
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: init playback device: %w: %v", media.ErrDeviceUnavailable, err)
	}
	sp.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("miniaudio: start playback: %w: %v", media.ErrDeviceUnavailable, err)
	}

	return sp, nil
}

// onPlayback runs on the device's audio thread. It moves queued bytes into
// the output buffer, zero-filling on underrun.
func (sp *Speaker) onPlayback(output, _ []byte, _ uint32) {
	sp.mu.Lock()
	n := copy(output, sp.buf)
	sp.buf = sp.buf[n:]
	sp.consumed += int64(n)
	sp.mu.Unlock()

	for i := n; i < len(output); i++ {
		output[i] = 0
	}

	if n > 0 {
		select {
		case sp.wake <- struct{}{}:
		default:
		}
	}
}

// Render implements [media.Speaker]. It appends the frame to the playback
// queue and blocks until every byte has been handed to the device, ctx is
// cancelled, or the queued bytes are flushed. Cancellation removes the
// frame's remaining bytes from the queue immediately.
func (sp *Speaker) Render(ctx context.Context, frame media.AudioFrame) error {
	if len(frame.Data) == 0 {
		return nil
	}

	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return fmt.Errorf("miniaudio: speaker closed")
	}
	sp.buf = append(sp.buf, frame.Data...)
	sp.written += int64(len(frame.Data))
	target := sp.written
	sp.mu.Unlock()

	for {
		sp.mu.Lock()
		done := sp.consumed >= target
		sp.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			// Cut the remaining frame bytes out of the queue so nothing of
			// the cancelled frame is heard.
			sp.Flush()
			return ctx.Err()
		case <-sp.wake:
		}
	}
}

// Flush implements [media.Speaker]. It discards all queued bytes; the device
// callback plays silence until new audio is rendered. Flushed bytes count as
// consumed so any Render blocked on them returns.
func (sp *Speaker) Flush() {
	sp.mu.Lock()
	dropped := len(sp.buf)
	sp.buf = nil
	sp.consumed += int64(dropped)
	sp.mu.Unlock()

	if dropped > 0 {
		select {
		case sp.wake <- struct{}{}:
		default:
		}
	}
}

// Close implements [media.Speaker]. Idempotent.
func (sp *Speaker) Close() error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil
	}
	sp.closed = true
	sp.mu.Unlock()

	_ = sp.dev.Stop()
	sp.dev.Uninit()
	_ = sp.ctx.Uninit()
	sp.ctx.Free()
	return nil
}
