package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything in the
// audio, server.listen_addr, recording and settings sections needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnalysisChanged is set when estimator, detector or spectrogram
	// tuning changed. It applies to takes analysed after the reload.
	AnalysisChanged bool

	// MetronomeChanged is set when tempo or click levels changed. It
	// applies to the next take started.
	MetronomeChanged bool

	PolicyChanged bool

	// RestartRequired lists sections that changed but cannot be applied live.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AnalysisChanged && !d.MetronomeChanged &&
		!d.PolicyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Estimator != new.Estimator || old.Detector != new.Detector || old.Spectrogram != new.Spectrogram {
		d.AnalysisChanged = true
	}
	if old.Metronome != new.Metronome {
		d.MetronomeChanged = true
	}
	if old.Editor != new.Editor {
		d.PolicyChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Settings != new.Settings {
		d.RestartRequired = append(d.RestartRequired, "settings")
	}

	return d
}
