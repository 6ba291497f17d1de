// Package transcript assembles the conversation record of a live session.
//
// Both sides of the conversation arrive as completed utterances: the user's
// side from input transcription events, the assistant's side from finalised
// response transcripts. The [Assembler] appends each completed utterance to
// an append-only log in arrival order, which is also presentation order.
//
// The raw log records each entry with an abstract [realtime.Speaker]; a
// [SpeakerMapping] renders it with domain labels for downstream consumers
// such as evaluation submission.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/parley-voice/parley/pkg/realtime"
)

// Entry is a single completed utterance in the conversation record.
type Entry struct {
	// Speaker identifies which side of the conversation produced the text.
	Speaker realtime.Speaker

	// Text is the utterance exactly as transcribed. It may carry leading or
	// trailing whitespace from the transcription provider.
	Text string

	// Timestamp is when the utterance was appended to the record.
	Timestamp time.Time
}

// LabeledEntry is an [Entry] rendered with a domain speaker label.
type LabeledEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// SpeakerMapping renders abstract speakers as domain labels.
type SpeakerMapping struct {
	User      string
	Assistant string
}

// DefaultSpeakerMapping labels the human side as the advisor and the model
// side as the client, matching the role-play framing of the session prompt.
var DefaultSpeakerMapping = SpeakerMapping{
	User:      "Advisor",
	Assistant: "Client",
}

// Label returns the domain label for speaker.
func (m SpeakerMapping) Label(speaker realtime.Speaker) string {
	if speaker == realtime.SpeakerAssistant {
		return m.Assistant
	}
	return m.User
}

// Assembler accumulates completed utterances from both conversation sides.
// Entries are kept in arrival order. Safe for concurrent use.
type Assembler struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// NewAssembler creates an empty [Assembler].
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append records a completed utterance. Empty text is dropped so the record
// never carries blank turns.
func (a *Assembler) Append(speaker realtime.Speaker, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, Entry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: a.now(),
	})
}

// Entries returns a copy of the record in arrival order.
func (a *Assembler) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len reports the number of recorded utterances.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset clears the record for a fresh session.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

// Labeled renders the record with domain speaker labels, trimming the
// whitespace transcription providers tend to leave around utterances.
// Returns an empty (non-nil) slice for an empty record.
func (a *Assembler) Labeled(mapping SpeakerMapping) []LabeledEntry {
	entries := a.Entries()
	out := make([]LabeledEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LabeledEntry{
			Speaker: mapping.Label(e.Speaker),
			Text:    strings.TrimSpace(e.Text),
		})
	}
	return out
}
