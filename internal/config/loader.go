package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validInputFormats lists the wire encodings the channel accepts for
// microphone audio.
var validInputFormats = []string{"pcm16", "g711_ulaw", "g711_alaw"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Channel.InputFormat != "" && !slices.Contains(validInputFormats, cfg.Channel.InputFormat) {
		errs = append(errs, fmt.Errorf("channel.input_format %q is invalid; valid values: pcm16, g711_ulaw, g711_alaw", cfg.Channel.InputFormat))
	}

	if cfg.Channel.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		errs = append(errs, errors.New("channel.api_key is required (or set OPENAI_API_KEY)"))
	}

	if cfg.Devices.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("devices.sample_rate %d is invalid", cfg.Devices.SampleRate))
	}
	if cfg.Devices.Video.FPS < 0 {
		errs = append(errs, fmt.Errorf("devices.video.fps %d is invalid", cfg.Devices.Video.FPS))
	}

	if cfg.Recordings.Keep < 0 {
		errs = append(errs, fmt.Errorf("recordings.keep %d is invalid", cfg.Recordings.Keep))
	}

	if cfg.Evaluation.BaseURL == "" {
		slog.Warn("evaluation.base_url is empty; finished conversations cannot be scored")
	}
	if cfg.Evaluation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("evaluation.timeout %s is invalid", cfg.Evaluation.Timeout))
	}

	return errors.Join(errs...)
}
