// Package mock provides in-memory mock implementations of the
// [realtime.Dialer] and [realtime.Session] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every outbound call so
// that tests can assert on call order and payloads, and they expose Emit*
// helpers to inject inbound events.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	dialer := &mock.Dialer{DialResult: sess}
//	got, err := dialer.Dial(ctx, realtime.SessionConfig{})
//	sess.EmitSpeechStarted()
package mock

import (
	"context"
	"sync"

	"github.com/parley-voice/parley/pkg/media"
	"github.com/parley-voice/parley/pkg/realtime"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [realtime.Session].
type Session struct {
	mu sync.Mutex

	// AppendedAudio holds a copy of every chunk passed to AppendAudio.
	AppendedAudio [][]byte

	// SentRecordings holds every recording passed to SendRecording.
	SentRecordings []media.VideoRecording

	// AppendError, when non-nil, is returned by AppendAudio.
	AppendError error

	// CallCountClearInput records how many times ClearInput was called.
	CallCountClearInput int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// ErrResult is returned by Err.
	ErrResult error

	errorHandler func(error)
	closed       bool

	audioCh     chan []byte
	transcripts chan realtime.TranscriptEvent
	speechCh    chan struct{}
	closeOnce   sync.Once
}

// NewSession creates a mock session with buffered inbound channels.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan realtime.TranscriptEvent, 16),
		speechCh:    make(chan struct{}, 4),
	}
}

// AppendAudio implements [realtime.Session].
func (s *Session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return realtime.ErrChannelClosed
	}
	if s.AppendError != nil {
		return s.AppendError
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.AppendedAudio = append(s.AppendedAudio, cp)
	return nil
}

// SendRecording implements [realtime.Session].
func (s *Session) SendRecording(rec media.VideoRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return realtime.ErrChannelClosed
	}
	s.SentRecordings = append(s.SentRecordings, rec)
	return nil
}

// ClearInput implements [realtime.Session].
func (s *Session) ClearInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return realtime.ErrChannelClosed
	}
	s.CallCountClearInput++
	return nil
}

// Audio implements [realtime.Session].
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Transcripts implements [realtime.Session].
func (s *Session) Transcripts() <-chan realtime.TranscriptEvent { return s.transcripts }

// SpeechStarted implements [realtime.Session].
func (s *Session) SpeechStarted() <-chan struct{} { return s.speechCh }

// OnError implements [realtime.Session].
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err implements [realtime.Session].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [realtime.Session]. The first call closes all inbound
// channels; subsequent calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
		close(s.speechCh)
	})
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AppendedChunks returns a snapshot of all appended audio chunks.
func (s *Session) AppendedChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.AppendedAudio))
	copy(out, s.AppendedAudio)
	return out
}

// EmitAudio injects one synthesised-audio delta.
func (s *Session) EmitAudio(delta []byte) { s.audioCh <- delta }

// EmitTranscript injects one utterance-completed event.
func (s *Session) EmitTranscript(ev realtime.TranscriptEvent) { s.transcripts <- ev }

// EmitSpeechStarted injects one barge-in trigger.
func (s *Session) EmitSpeechStarted() { s.speechCh <- struct{}{} }

// EmitError invokes the registered error handler, if any.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// DialCall records the arguments of a single [Dialer.Dial] invocation.
type DialCall struct {
	// Config is the session config passed to Dial.
	Config realtime.SessionConfig
}

// Dialer is a mock implementation of [realtime.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialResult is returned by Dial when DialError is nil.
	DialResult *Session

	// DialError is returned by Dial when non-nil.
	DialError error

	// DialCalls records the arguments of every Dial invocation.
	DialCalls []DialCall
}

// Dial implements [realtime.Dialer].
func (d *Dialer) Dial(_ context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Config: cfg})
	if d.DialError != nil {
		return nil, d.DialError
	}
	return d.DialResult, nil
}
