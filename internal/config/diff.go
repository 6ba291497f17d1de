package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; device and server
// settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChannelChanged is true when any session setting changed: model, voice,
	// instructions, input format, or input transcription. Applies to the next
	// session start.
	ChannelChanged bool

	// EvaluationChanged is true when the evaluation endpoint, timeout, or
	// speaker labels changed.
	EvaluationChanged bool
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ChannelChanged || d.EvaluationChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Channel != new.Channel {
		d.ChannelChanged = true
	}

	if old.Evaluation != new.Evaluation {
		d.EvaluationChanged = true
	}

	return d
}
