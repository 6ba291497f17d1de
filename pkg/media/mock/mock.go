// Package mock provides in-memory mock implementations of the
// [media.Acquirer], [media.Stream], and [media.Speaker] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan media.AudioFrame, 16)
//	stream := &mock.Stream{AudioResult: &mock.AudioTrack{FramesChan: frames}}
//	acq := &mock.Acquirer{AcquireResult: stream}
//	got, err := acq.Acquire(ctx, media.Constraints{Audio: true})
package mock

import (
	"context"
	"sync"

	"github.com/parley-voice/parley/pkg/media"
)

// ─── AudioTrack ───────────────────────────────────────────────────────────────

// AudioTrack is a mock implementation of [media.AudioTrack]. Tests feed frames
// by writing to FramesChan and close it to simulate stream release.
type AudioTrack struct {
	// FramesChan is returned by [AudioTrack.Frames].
	FramesChan chan media.AudioFrame

	// FormatResult is returned by [AudioTrack.Format].
	FormatResult media.Format
}

// Frames implements [media.AudioTrack].
func (t *AudioTrack) Frames() <-chan media.AudioFrame { return t.FramesChan }

// Format implements [media.AudioTrack].
func (t *AudioTrack) Format() media.Format { return t.FormatResult }

// ─── VideoTrack ───────────────────────────────────────────────────────────────

// VideoTrack is a mock implementation of [media.VideoTrack]. Tests control the
// latched frame via [VideoTrack.SetLatest].
type VideoTrack struct {
	mu     sync.Mutex
	latest media.VideoFrame
	ready  bool

	// CallCountLatest records how many times Latest was called.
	CallCountLatest int
}

// SetLatest latches a frame. Frames with zero width or height mark the track
// as not ready, mirroring a real surface that has not produced pixels yet.
func (t *VideoTrack) SetLatest(f media.VideoFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = f
	t.ready = f.Width > 0 && f.Height > 0
}

// Latest implements [media.VideoTrack].
func (t *VideoTrack) Latest() (media.VideoFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountLatest++
	if !t.ready {
		return media.VideoFrame{}, false
	}
	return t.latest, true
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [media.Stream].
// Set the exported Result fields before use; inspect the Call* fields after.
type Stream struct {
	mu sync.Mutex

	// AudioResult is returned by [Stream.Audio]. May be nil.
	AudioResult *AudioTrack

	// VideoResult is returned by [Stream.Video]. May be nil.
	VideoResult *VideoTrack

	// ReleaseError is returned by the first [Stream.Release] call.
	ReleaseError error

	// CallCountRelease records how many times Release was called.
	CallCountRelease int

	released bool
}

// Audio implements [media.Stream].
func (s *Stream) Audio() media.AudioTrack {
	if s.AudioResult == nil {
		return nil
	}
	return s.AudioResult
}

// Video implements [media.Stream].
func (s *Stream) Video() media.VideoTrack {
	if s.VideoResult == nil {
		return nil
	}
	return s.VideoResult
}

// Release implements [media.Stream]. The first call closes the audio frames
// channel (if any) and returns ReleaseError; subsequent calls are no-ops
// returning nil, matching the idempotence contract.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRelease++
	if s.released {
		return nil
	}
	s.released = true
	if s.AudioResult != nil && s.AudioResult.FramesChan != nil {
		close(s.AudioResult.FramesChan)
	}
	return s.ReleaseError
}

// Released reports whether Release has been called at least once.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// ─── Acquirer ─────────────────────────────────────────────────────────────────

// AcquireCall records the arguments of a single [Acquirer.Acquire] invocation.
type AcquireCall struct {
	// Constraints is the constraints argument passed to Acquire.
	Constraints media.Constraints
}

// Acquirer is a mock implementation of [media.Acquirer].
type Acquirer struct {
	mu sync.Mutex

	// AcquireResult is returned by [Acquirer.Acquire] when AcquireError is nil.
	AcquireResult *Stream

	// AcquireError is returned by [Acquirer.Acquire] when non-nil.
	AcquireError error

	// AcquireDelay, when non-nil, is closed by the test to release a blocked
	// Acquire call. Use this to simulate a slow host permission prompt.
	AcquireDelay chan struct{}

	// AcquireCalls records the arguments of every Acquire invocation.
	AcquireCalls []AcquireCall
}

// Acquire implements [media.Acquirer].
func (a *Acquirer) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	a.mu.Lock()
	a.AcquireCalls = append(a.AcquireCalls, AcquireCall{Constraints: c})
	delay := a.AcquireDelay
	res := a.AcquireResult
	err := a.AcquireError
	a.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [media.Speaker]. Rendered frames are
// recorded in order; set RenderError to make every Render call fail, or
// RenderBlock to make Render wait until the channel is closed (simulating a
// long frame that a test interrupts via ctx).
type Speaker struct {
	mu sync.Mutex

	// RenderError, when non-nil, is returned by every Render call.
	RenderError error

	// RenderBlock, when non-nil, makes Render block until the channel is
	// closed or ctx is cancelled.
	RenderBlock chan struct{}

	// Rendered holds a copy of the Data of every successfully rendered frame.
	Rendered [][]byte

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Render implements [media.Speaker].
func (s *Speaker) Render(ctx context.Context, frame media.AudioFrame) error {
	s.mu.Lock()
	block := s.RenderBlock
	err := s.RenderError
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	cp := make([]byte, len(frame.Data))
	copy(cp, frame.Data)
	s.mu.Lock()
	s.Rendered = append(s.Rendered, cp)
	s.mu.Unlock()
	return nil
}

// Flush implements [media.Speaker].
func (s *Speaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
}

// Close implements [media.Speaker]. Idempotent by contract; the mock just
// counts calls.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// FlushCount reports how many times Flush was called.
func (s *Speaker) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountFlush
}

// RenderedFrames returns a snapshot of the rendered frame payloads.
func (s *Speaker) RenderedFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Rendered))
	copy(out, s.Rendered)
	return out
}
