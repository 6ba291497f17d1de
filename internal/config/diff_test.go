package config_test

import (
	"testing"

	"github.com/parley-voice/parley/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogInfo
	cfg.Channel.APIKey = "sk-test"
	cfg.Channel.Model = "gpt-realtime"
	cfg.Channel.Voice = "alloy"
	cfg.Evaluation.BaseURL = "http://localhost:9000"
	return cfg
}

// ─── TestDiff_NoChanges ───────────────────────────────────────────────────────

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	if d := config.Diff(old, new); d.Any() {
		t.Fatalf("expected empty diff, got %+v", d)
	}
}

// ─── TestDiff_LogLevel ────────────────────────────────────────────────────────

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Fatalf("diff = %+v, want log level change to debug", d)
	}
	if d.ChannelChanged || d.EvaluationChanged {
		t.Errorf("unrelated sections flagged: %+v", d)
	}
}

// ─── TestDiff_ChannelSettings ─────────────────────────────────────────────────

func TestDiff_ChannelSettings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"model", func(c *config.Config) { c.Channel.Model = "other-model" }},
		{"voice", func(c *config.Config) { c.Channel.Voice = "verse" }},
		{"instructions", func(c *config.Config) { c.Channel.Instructions = "new prompt" }},
		{"input format", func(c *config.Config) { c.Channel.InputFormat = "g711_ulaw" }},
		{"transcription", func(c *config.Config) { c.Channel.InputTranscription = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			old := baseConfig()
			new := baseConfig()
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.ChannelChanged {
				t.Errorf("expected channel change for %s", tc.name)
			}
			if d.EvaluationChanged || d.LogLevelChanged {
				t.Errorf("unrelated sections flagged: %+v", d)
			}
		})
	}
}

// ─── TestDiff_EvaluationSettings ──────────────────────────────────────────────

func TestDiff_EvaluationSettings(t *testing.T) {
	t.Parallel()

	old := baseConfig()
	new := baseConfig()
	new.Evaluation.Speakers.User = "Agent"

	d := config.Diff(old, new)
	if !d.EvaluationChanged {
		t.Fatalf("diff = %+v, want evaluation change", d)
	}
}
