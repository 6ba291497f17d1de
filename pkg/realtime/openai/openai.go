// Package openai implements the realtime.Dialer interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded chunks; when the session is
// configured for a G.711 input format, PCM16 frames are transcoded before
// encoding. Inbound events are demultiplexed onto the audio, transcript, and
// speech-started channels of the [realtime.Session] contract.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/zaf/g711"

	"github.com/parley-voice/parley/pkg/media"
	"github.com/parley-voice/parley/pkg/realtime"
)

// Compile-time assertions that Dialer and session satisfy the realtime interfaces.
var _ realtime.Dialer = (*Dialer)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	audioBuf      = 64
	transcriptBuf = 16
	speechBuf     = 4
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements realtime.Dialer for OpenAI's Realtime API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Realtime Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a new Realtime session with the given configuration.
// The session.update control message announcing the session is sent before
// Dial returns, so the session is ready to accept audio immediately.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	if cfg.InputFormat == "" {
		cfg.InputFormat = realtime.FormatPCM16
	}
	if !cfg.InputFormat.IsValid() {
		return nil, fmt.Errorf("openai: unknown input format %q", cfg.InputFormat)
	}

	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		inputFormat: cfg.InputFormat,
		audioCh:     make(chan []byte, audioBuf),
		transcripts: make(chan realtime.TranscriptEvent, transcriptBuf),
		speechCh:    make(chan struct{}, speechBuf),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded
}

type appendVideoMessage struct {
	Type     string `json:"type"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded container
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.done
	Response *responsePayload `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type responsePayload struct {
	Output []responseOutput `json:"output"`
}

type responseOutput struct {
	Content []responseContent `json:"content"`
}

type responseContent struct {
	Transcript string `json:"transcript"`
}

// joinedTranscript renders the assistant transcript of a response.done event:
// the space-joined concatenation of every content item's transcript across
// every output item. Empty parts are skipped so joining never produces
// doubled spaces.
func (r *responsePayload) joinedTranscript() string {
	var parts []string
	for _, out := range r.Output {
		for _, c := range out.Content {
			if c.Transcript != "" {
				parts = append(parts, c.Transcript)
			}
		}
	}
	return strings.Join(parts, " ")
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	inputFormat realtime.AudioFormat

	audioCh     chan []byte
	transcripts chan realtime.TranscriptEvent
	speechCh    chan struct{}

	mu           sync.Mutex
	errVal       error
	errorHandler func(error)
	closed       bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate announces the session: voice, instructions, audio formats
// and input transcription.
func (s *session) sendSessionUpdate(cfg realtime.SessionConfig) error {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  string(cfg.InputFormat),
		OutputAudioFormat: string(realtime.FormatPCM16),
	}
	if cfg.EnableInputTranscription {
		params.InputAudioTranscription = &transcriptionParam{Model: "whisper-1"}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the inbound channels: it closes all of them when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Malformed inbound event: dropped, not propagated.
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		select {
		case s.speechCh <- struct{}{}:
		default:
			// A pending, unconsumed trigger already interrupts playback;
			// coalescing repeats loses nothing.
		}

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		ev := realtime.TranscriptEvent{
			Speaker: realtime.SpeakerUser,
			Text:    evt.Transcript,
		}
		select {
		case s.transcripts <- ev:
		case <-s.ctx.Done():
		}

	case "response.done":
		if evt.Response == nil {
			return
		}
		text := evt.Response.joinedTranscript()
		if text == "" {
			// A responseDone with no usable transcript content is treated as
			// empty and dropped.
			return
		}
		ev := realtime.TranscriptEvent{
			Speaker: realtime.SpeakerAssistant,
			Text:    text,
		}
		select {
		case s.transcripts <- ev:
		case <-s.ctx.Done():
		}

	case "error":
		s.handleErrorEvent(evt)
	}
}

func (s *session) handleErrorEvent(evt *serverEvent) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()

	if handler == nil {
		return
	}

	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	handler(fmt.Errorf("openai: %s", msg))
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
		close(s.speechCh)
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// AppendAudio delivers one PCM16 chunk to the service's input buffer,
// transcoding to G.711 first when the session was configured for it.
func (s *session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	s.mu.Unlock()

	switch s.inputFormat {
	case realtime.FormatG711Ulaw:
		chunk = g711.EncodeUlaw(chunk)
	case realtime.FormatG711Alaw:
		chunk = g711.EncodeAlaw(chunk)
	}

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// SendRecording uploads one finalised video recording as a single message.
func (s *session) SendRecording(rec media.VideoRecording) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	s.mu.Unlock()

	return s.writeJSON(appendVideoMessage{
		Type:     "input_video_buffer.append",
		MIMEType: rec.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(rec.Data),
	})
}

// ClearInput discards the service-side buffered-but-unsent input audio.
func (s *session) ClearInput() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	s.mu.Unlock()

	return s.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// Audio returns the channel on which synthesised audio deltas arrive.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Transcripts returns the channel on which utterance-completed events arrive.
func (s *session) Transcripts() <-chan realtime.TranscriptEvent { return s.transcripts }

// SpeechStarted returns the channel receiving barge-in triggers.
func (s *session) SpeechStarted() <-chan struct{} { return s.speechCh }

// OnError registers a callback for non-fatal error events from the service.
func (s *session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
