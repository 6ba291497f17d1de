// Package v4l2 implements [media.Acquirer] (video only) for Video4Linux
// cameras via the webcam library.
//
// The acquired stream behaves as a latched surface: a background reader keeps
// only the most recent camera frame and [media.VideoTrack.Latest] hands it to
// samplers at their own cadence. Until the camera delivers its first frame,
// Latest reports not-ready so samplers skip the tick instead of forwarding a
// zero-sized frame.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/parley-voice/parley/pkg/media"
)

var _ media.Acquirer = (*Acquirer)(nil)

const (
	// defaultDevice is the camera opened when Config.Device is empty.
	defaultDevice = "/dev/video0"

	// waitTimeoutSec is the per-frame wait passed to the driver. Timeouts are
	// not errors; the reader simply retries.
	waitTimeoutSec = 5
)

// Config selects the camera device and requested capture geometry.
type Config struct {
	// Device is the V4L2 device path. Empty means /dev/video0.
	Device string

	// Width and Height request a capture size; the driver may adjust them.
	// Zero values request 640x480.
	Width  uint32
	Height uint32
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = defaultDevice
	}
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	return c
}

// Acquirer opens camera capture streams.
type Acquirer struct {
	cfg Config
}

// NewAcquirer creates a camera acquirer with the given config.
func NewAcquirer(cfg Config) *Acquirer {
	return &Acquirer{cfg: cfg.withDefaults()}
}

// Acquire implements [media.Acquirer]. Only Constraints.Video is supported.
func (a *Acquirer) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if c.Audio {
		return nil, fmt.Errorf("v4l2: no microphone backend: %w", media.ErrDeviceUnavailable)
	}
	if !c.Video {
		return nil, fmt.Errorf("v4l2: empty constraints: %w", media.ErrDeviceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(a.cfg.Device)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("v4l2: open %s: %w: %v", a.cfg.Device, media.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("v4l2: open %s: %w: %v", a.cfg.Device, media.ErrDeviceUnavailable, err)
	}

	// Pick any supported pixel format at the requested geometry; the raster
	// layout is opaque to the pipeline.
	var format webcam.PixelFormat
	for f := range cam.GetSupportedFormats() {
		format = f
		break
	}
	if format == 0 {
		_ = cam.Close()
		return nil, fmt.Errorf("v4l2: no supported pixel format: %w", media.ErrDeviceUnavailable)
	}

	_, w, h, err := cam.SetImageFormat(format, a.cfg.Width, a.cfg.Height)
	if err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("v4l2: set format: %w: %v", media.ErrDeviceUnavailable, err)
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("v4l2: start streaming: %w: %v", media.ErrDeviceUnavailable, err)
	}

	st := &stream{
		cam:     cam,
		width:   int(w),
		height:  int(h),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	st.wg.Add(1)
	go st.readLoop()

	return st, nil
}

// stream is a live camera handle. It implements both [media.Stream] and
// [media.VideoTrack].
type stream struct {
	cam     *webcam.Webcam
	width   int
	height  int
	started time.Time

	mu       sync.Mutex
	latest   media.VideoFrame
	ready    bool
	released bool

	done chan struct{}
	wg   sync.WaitGroup
}

func (s *stream) Audio() media.AudioTrack { return nil }
func (s *stream) Video() media.VideoTrack { return s }

// Latest implements [media.VideoTrack].
func (s *stream) Latest() (media.VideoFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return media.VideoFrame{}, false
	}
	return s.latest, true
}

// readLoop pulls frames from the driver and latches the most recent one.
// Read errors are logged and retried; the loop exits on Release.
func (s *stream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.cam.WaitForFrame(waitTimeoutSec); err != nil {
			var timeout *webcam.Timeout
			if errors.As(err, &timeout) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Warn("v4l2: wait for frame", "err", err)
			}
			return
		}

		raw, err := s.cam.ReadFrame()
		if err != nil || len(raw) == 0 {
			continue
		}

		pix := make([]byte, len(raw))
		copy(pix, raw)
		frame := media.VideoFrame{
			Width:     s.width,
			Height:    s.height,
			Pix:       pix,
			Timestamp: time.Since(s.started),
		}

		s.mu.Lock()
		s.latest = frame
		s.ready = true
		s.mu.Unlock()
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

	close(s.done)
	err := s.cam.StopStreaming()
	closeErr := s.cam.Close()
	s.wg.Wait()

	return errors.Join(err, closeErr)
}
