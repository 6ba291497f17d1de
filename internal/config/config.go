// Package config provides the configuration schema and loader for the Parley
// session client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that decodes from YAML strings like "45s"
// or "2m".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String renders d in [time.Duration] notation.
func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Channel    ChannelConfig    `yaml:"channel"`
	Devices    DevicesConfig    `yaml:"devices"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// ServerConfig holds settings for the observability HTTP server (health
// checks and the /metrics endpoint) and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the observability server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ChannelConfig configures the realtime conversation channel.
type ChannelConfig struct {
	// APIKey authenticates against the channel provider. Falls back to the
	// OPENAI_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// Voice selects the assistant voice.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt establishing the conversation
	// role-play frame.
	Instructions string `yaml:"instructions"`

	// InputFormat is the wire encoding for microphone audio:
	// "pcm16" (default), "g711_ulaw", or "g711_alaw".
	InputFormat string `yaml:"input_format"`

	// InputTranscription enables transcription of the user's speech so both
	// conversation sides appear in the record.
	InputTranscription bool `yaml:"input_transcription"`
}

// DevicesConfig selects and shapes the local capture devices.
type DevicesConfig struct {
	// SampleRate is the microphone capture rate in Hz. Zero means 24000.
	SampleRate int `yaml:"sample_rate"`

	// Camera is the V4L2 device path (e.g., "/dev/video0"). Empty disables
	// video capture.
	Camera string `yaml:"camera"`

	// Video shapes the archival video encoder.
	Video VideoConfig `yaml:"video"`
}

// VideoConfig shapes the archival video encoder.
type VideoConfig struct {
	// FFmpegBinary is the encoder executable. Empty means "ffmpeg" on PATH.
	FFmpegBinary string `yaml:"ffmpeg_binary"`

	// PixelFormat is the camera's raw pixel format. Empty means "yuyv422".
	PixelFormat string `yaml:"pixel_format"`

	// FPS is the encoder input frame rate. Zero means 30.
	FPS int `yaml:"fps"`
}

// RecordingsConfig controls archival recording storage.
type RecordingsConfig struct {
	// Dir is the directory recordings are written to. Empty disables
	// on-disk archival; recordings are still sent over the channel.
	Dir string `yaml:"dir"`

	// Keep caps how many recordings are retained on disk. Zero means keep
	// all.
	Keep int `yaml:"keep"`
}

// EvaluationConfig configures the conversation evaluation service.
type EvaluationConfig struct {
	// BaseURL is the evaluation service endpoint. Empty disables evaluation.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single evaluation request. Zero means 30s.
	Timeout Duration `yaml:"timeout"`

	// ResultsFile appends every evaluation verdict as a JSON line to this
	// file. Empty disables persistence.
	ResultsFile string `yaml:"results_file"`

	// Speakers maps conversation sides to the labels the evaluation service
	// expects. Empty fields default to "Advisor" and "Client".
	Speakers SpeakersConfig `yaml:"speakers"`
}

// SpeakersConfig labels the two conversation sides for evaluation.
type SpeakersConfig struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}
