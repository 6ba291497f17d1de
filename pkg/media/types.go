package media

import "time"

// AudioFrame represents a single chunk of captured or synthesised audio
// flowing through the pipeline. Frames are the atomic unit of audio
// transport — captured from the microphone stream, forwarded to the realtime
// channel, and rendered through the speaker. A frame is never mutated after
// capture; it is forwarded and then discarded.
type AudioFrame struct {
	// Data is raw PCM16 little-endian audio.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for the realtime channel, 48000 for
	// device-native capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// VideoFrame is a raster snapshot of the camera stream captured at one point
// in time. Frames are forwarded once and never retained; a slow consumer is
// rate-limited by the sampler's own tick cadence, not by queueing.
type VideoFrame struct {
	// Width and Height are the frame dimensions in pixels. A frame with
	// either dimension zero must never be forwarded downstream.
	Width  int
	Height int

	// Pix is the raw pixel buffer in the stream's native layout.
	Pix []byte

	// Timestamp marks when this frame was sampled, relative to stream start.
	Timestamp time.Duration
}

// VideoRecording is a single finalised encoded media object produced by the
// chunked recorder design. It is immutable once produced; ownership transfers
// to whoever requested the recording.
type VideoRecording struct {
	// Data is the complete encoded container, all chunks concatenated in
	// arrival order. May be empty when recording stopped before any chunk
	// was produced — an empty recording is valid, not an error.
	Data []byte

	// MIMEType declares the container format (e.g., "video/webm").
	MIMEType string
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
