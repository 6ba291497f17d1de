// Package realtime defines the duplex channel contract to the remote
// conversational service.
//
// The central abstraction is [Session]: a bidirectional, multiplexed channel
// that carries user audio upstream and synthesised audio, transcription
// events, and speech-detection events downstream. Sessions are long-lived
// (seconds to minutes); the client treats the remote protocol purely as the
// message contracts expressed here.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"errors"

	"github.com/parley-voice/parley/pkg/media"
)

// ErrChannelClosed is returned by outbound Session methods after Close.
var ErrChannelClosed = errors.New("realtime: session closed")

// AudioFormat selects the encoding of outbound user audio.
type AudioFormat string

const (
	FormatPCM16    AudioFormat = "pcm16"
	FormatG711Ulaw AudioFormat = "g711_ulaw"
	FormatG711Alaw AudioFormat = "g711_alaw"
)

// IsValid reports whether f is a recognised audio format.
func (f AudioFormat) IsValid() bool {
	switch f {
	case FormatPCM16, FormatG711Ulaw, FormatG711Alaw:
		return true
	}
	return false
}

// Speaker identifies which side of the conversation produced an utterance.
type Speaker int

const (
	// SpeakerUser is the human on the microphone.
	SpeakerUser Speaker = iota

	// SpeakerAssistant is the remote synthesised voice.
	SpeakerAssistant
)

// String returns the human-readable name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// TranscriptEvent is an utterance-completed notification from the remote
// service: either the transcription of finished user speech or the text of a
// finished assistant response. Events arrive in utterance completion order.
type TranscriptEvent struct {
	Speaker Speaker
	Text    string
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the system-level prompt configuring the remote persona.
	Instructions string

	// Voice selects the synthesised voice, provider-specific.
	Voice string

	// InputFormat is the encoding of outbound user audio. Zero value means
	// [FormatPCM16].
	InputFormat AudioFormat

	// EnableInputTranscription asks the service to transcribe user speech and
	// deliver inputTranscriptionCompleted events.
	EnableInputTranscription bool
}

// Session represents an open duplex channel to the conversational service.
//
// The session is the hot path of the capture pipeline — every method must
// return quickly. Inbound traffic is channel-based so the single event loop
// can select across it. Callers must call Close when done; Close is
// idempotent.
type Session interface {
	// AppendAudio delivers one captured user audio frame to the service's
	// input buffer. The frame must be PCM16 in the session's negotiated
	// sample rate; the session encodes per SessionConfig.InputFormat.
	AppendAudio(chunk []byte) error

	// SendRecording uploads one finalised video recording.
	SendRecording(rec media.VideoRecording) error

	// ClearInput discards any buffered-but-unsent input audio on the service
	// side. Called on session stop.
	ClearInput() error

	// Audio returns a read-only channel emitting synthesised-audio deltas in
	// arrival order. Closed when the session ends. After the channel closes,
	// call [Session.Err] to check whether the session ended cleanly.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel emitting utterance-completed
	// events for both speakers in completion order. Closed when the session
	// ends.
	Transcripts() <-chan TranscriptEvent

	// SpeechStarted returns a read-only channel that receives one value each
	// time the service detects the start of user speech. This is the barge-in
	// trigger. Closed when the session ends.
	SpeechStarted() <-chan struct{}

	// OnError registers a callback for non-fatal channel errors. Only one
	// callback may be registered at a time; passing nil clears it. Channel
	// errors never force a session state change.
	OnError(handler func(error))

	// Err returns the error that caused the inbound channels to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session and closes all inbound channels.
	// Idempotent.
	Close() error
}

// Dialer establishes sessions with the remote conversational service.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Dial opens a new session and announces it to the service (the "session
	// start" control message). The returned Session is ready to accept audio
	// immediately. The supplied ctx governs the dial attempt only.
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}
