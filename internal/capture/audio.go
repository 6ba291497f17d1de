// Package capture implements the capture units of the session pipeline: the
// microphone frame forwarder, the continuous video frame sampler, and the
// chunked video recorder.
//
// Every unit follows the same lifecycle contract: Start begins a lazy,
// non-restartable sequence of deliveries to a registered sink; Stop ends it
// and is safe to call at any time, including before Start (no-op) and more
// than once.
package capture

import (
	"fmt"
	"sync"

	"github.com/parley-voice/parley/pkg/media"
)

// AudioSink receives captured audio frames in capture order. Typically this
// is the realtime channel's outbound path.
type AudioSink func(media.AudioFrame)

// AudioCapturer forwards microphone frames to a sink as soon as they are
// captured — streaming, not buffered-then-returned. Cadence is driven by the
// underlying track's native chunking; the capturer never reframes or
// resamples.
//
// An AudioCapturer is single-use: after Stop it cannot be started again.
type AudioCapturer struct {
	sink AudioSink

	mu      sync.Mutex
	started bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAudioCapturer creates a capturer delivering frames to sink.
func NewAudioCapturer(sink AudioSink) *AudioCapturer {
	return &AudioCapturer{
		sink: sink,
		done: make(chan struct{}),
	}
}

// Start begins forwarding frames from track to the sink. It returns an error
// if the capturer was already started or already stopped.
func (c *AudioCapturer) Start(track media.AudioTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("capture: audio capturer already stopped")
	}
	if c.started {
		return fmt.Errorf("capture: audio capturer already started")
	}
	c.started = true

	c.wg.Add(1)
	go c.forward(track.Frames())
	return nil
}

// Stop ends frame delivery. After Stop returns, no further frame reaches the
// sink even if frames were mid-flight. Safe to call before Start (no-op) and
// repeatedly.
func (c *AudioCapturer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// forward pumps frames until the track channel closes or Stop is called.
// A frame racing with Stop is dropped, never delivered after Stop returns.
func (c *AudioCapturer) forward(frames <-chan media.AudioFrame) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
			c.sink(frame)
		}
	}
}
