package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-voice/parley/pkg/media"
)

// VideoSink receives sampled video frames in capture order. Typically a live
// preview surface or a frame-level streaming path.
type VideoSink func(media.VideoFrame)

// defaultSampleInterval approximates a 30 Hz display-refresh cadence.
const defaultSampleInterval = time.Second / 30

// FrameSampler is the continuous-extraction video capture design: it samples
// the track's latched surface at a fixed refresh cadence and forwards each
// raster frame to the sink, one at a time. There is no backlog — a slow
// consumer is rate-limited by the tick cadence itself.
//
// A FrameSampler is single-use: after Stop it cannot be started again.
type FrameSampler struct {
	sink     VideoSink
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// SamplerOption is a functional option for configuring a FrameSampler.
type SamplerOption func(*FrameSampler)

// WithSampleInterval overrides the default 30 Hz sampling cadence. Useful in
// tests to keep suite execution fast.
func WithSampleInterval(d time.Duration) SamplerOption {
	return func(s *FrameSampler) { s.interval = d }
}

// NewFrameSampler creates a sampler delivering frames to sink.
func NewFrameSampler(sink VideoSink, opts ...SamplerOption) *FrameSampler {
	s := &FrameSampler{
		sink:     sink,
		interval: defaultSampleInterval,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start attaches the sampler to track and begins sampling at the configured
// cadence. A tick where the surface is not ready (zero dimensions) is skipped
// without forwarding anything; sampling resumes on the next tick.
func (s *FrameSampler) Start(track media.VideoTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("capture: frame sampler already stopped")
	}
	if s.started {
		return fmt.Errorf("capture: frame sampler already started")
	}
	s.started = true

	s.wg.Add(1)
	go s.sampleLoop(track)
	return nil
}

// Stop detaches the sampler. An in-flight sample may complete, but no new
// sample is scheduled after Stop returns. Safe to call before Start (no-op)
// and repeatedly.
func (s *FrameSampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *FrameSampler) sampleLoop(track media.VideoTrack) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			frame, ok := track.Latest()
			if !ok || frame.Width == 0 || frame.Height == 0 {
				// Surface not ready; retry next tick.
				continue
			}
			s.sink(frame)
		}
	}
}
