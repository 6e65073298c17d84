package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/vocalparam/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_HotReloadableSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"estimator", func(c *config.Config) { c.Estimator.OverlapRatio = 0.3 }, func(d config.ConfigDiff) bool { return d.AnalysisChanged }},
		{"detector", func(c *config.Config) { c.Detector.ThresholdRatio = 4 }, func(d config.ConfigDiff) bool { return d.AnalysisChanged }},
		{"spectrogram", func(c *config.Config) { c.Spectrogram.Hop = 256 }, func(d config.ConfigDiff) bool { return d.AnalysisChanged }},
		{"bpm", func(c *config.Config) { c.Metronome.BPM = 90 }, func(d config.ConfigDiff) bool { return d.MetronomeChanged }},
		{"click volume", func(c *config.Config) { c.Metronome.ClickVolume = 0.5 }, func(d config.ConfigDiff) bool { return d.MetronomeChanged }},
		{"policy", func(c *config.Config) { c.Editor.ValidationPolicy = "clamp" }, func(d config.ConfigDiff) bool { return d.PolicyChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !tt.check(d) {
				t.Errorf("change not reported: %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("%s should be hot-reloadable, got RestartRequired=%v", tt.name, d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Audio.InputDevice = "USB Mic"
	new.Server.ListenAddr = ":9999"
	new.Recording.OutputDir = "elsewhere"
	new.Settings.Path = "other.db"

	d := config.Diff(old, new)
	for _, want := range []string{"audio", "server.listen_addr", "recording", "settings"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.AnalysisChanged || d.MetronomeChanged || d.PolicyChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
