// Package media defines the interfaces and types for host media device access
// within Parley.
//
// The two primary abstractions are:
//
//   - [Acquirer] — requests microphone/camera access from the host and returns
//     a [Stream].
//   - [Stream] — a live handle to the acquired device tracks, giving callers
//     the audio frame source, the video surface, and an idempotent release.
//
// Implementations are provided by device-specific adapter packages
// (media/miniaudio for microphone and speaker, media/v4l2 for cameras). The
// interfaces are intentionally narrow to keep the session controller decoupled
// from device details.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement [Acquirer] and [Stream].
package media

import (
	"context"
	"errors"
)

// Acquisition failure taxonomy. Device backends must wrap their native errors
// with one of these sentinels so callers can branch with [errors.Is].
var (
	// ErrPermissionDenied is returned when the host denies access to the
	// requested device.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrDeviceUnavailable is returned when no matching device exists or the
	// device is busy.
	ErrDeviceUnavailable = errors.New("media: device unavailable")
)

// Constraints selects which device kinds to acquire. Audio and video are
// independent: a session acquires audio-only for the conversation and
// video-only for the camera toggle.
type Constraints struct {
	Audio bool
	Video bool
}

// AudioTrack is the live microphone track of an acquired [Stream].
type AudioTrack interface {
	// Frames returns a read-only channel delivering [AudioFrame] values in
	// capture order, chunked at the device's native cadence. The channel is
	// closed when the owning stream is released. Frames are never resampled
	// or reframed by the track.
	Frames() <-chan AudioFrame

	// Format reports the track's native sample rate and channel count.
	Format() Format
}

// VideoTrack is the live camera track of an acquired [Stream]. It behaves as
// a latched surface: the track holds only the most recent raster frame and
// samplers read it at their own cadence.
type VideoTrack interface {
	// Latest returns the most recently captured frame and true, or a zero
	// frame and false while the track has not yet produced a frame with
	// non-zero dimensions. Callers must skip sampling when ok is false.
	Latest() (frame VideoFrame, ok bool)
}

// Stream is a live handle to acquired device tracks. The acquiring component
// exclusively owns the handle for the lifetime of one recording segment; no
// other component may hold it past release. A preview surface may read the
// video track concurrently, read-only, but must never release the stream.
type Stream interface {
	// Audio returns the microphone track, or nil when audio was not requested.
	Audio() AudioTrack

	// Video returns the camera track, or nil when video was not requested.
	Video() VideoTrack

	// Release stops every constituent device track and closes all frame
	// channels. Release is idempotent: releasing an already-released stream
	// is a no-op, not an error. Multiple stop paths may race to release the
	// same handle; all of them must be absorbed safely.
	Release() error
}

// Acquirer is the entry point for host device access.
//
// Implementations must be safe for concurrent use.
type Acquirer interface {
	// Acquire requests access to the device kinds selected by c and returns a
	// live [Stream]. The supplied ctx governs the lifetime of the acquisition
	// attempt only; once acquired, the Stream remains live until
	// [Stream.Release] is called.
	//
	// Fails with [ErrPermissionDenied] or [ErrDeviceUnavailable] (wrapped).
	// On failure no partial acquisition is left behind: any track opened
	// before the failure is released before Acquire returns.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Speaker renders synthesised audio frames to the host output device.
//
// Implementations must be safe for concurrent use.
type Speaker interface {
	// Render plays one frame to completion. It blocks until the frame has
	// been handed to the device or ctx is cancelled; cancellation must cut
	// the frame off immediately with no audible residue.
	Render(ctx context.Context, frame AudioFrame) error

	// Flush discards any device-side buffered audio immediately.
	Flush()

	// Close releases the output device. Idempotent.
	Close() error
}
