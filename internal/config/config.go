// Package config provides the configuration schema, loader, hot-reload
// watcher, and audio backend registry for VocalParam.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

// LogLevel controls log verbosity for the VocalParam server.
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

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for VocalParam.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Audio       AudioConfig           `yaml:"audio"`
	Metronome   MetronomeConfig       `yaml:"metronome"`
	Recording   RecordingConfig       `yaml:"recording"`
	Estimator   oto.EstimatorConfig   `yaml:"estimator"`
	Detector    dsp.DetectorConfig    `yaml:"detector"`
	Spectrogram dsp.SpectrogramConfig `yaml:"spectrogram"`
	Editor      EditorConfig          `yaml:"editor"`
	Settings    SettingsConfig        `yaml:"settings"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the editor API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the backend, devices, and stream format.
// Changes to this section require a restart or an explicit device switch.
type AudioConfig struct {
	// Backend names a backend registered in the [Registry] ("malgo" or "virtual").
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice are driver device names. Empty selects
	// the system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	SampleRate     int `yaml:"sample_rate"`
	InputChannels  int `yaml:"input_channels"`
	OutputChannels int `yaml:"output_channels"`
	BlockSize      int `yaml:"block_size"`

	// RetryDelay is the pause before retrying a busy device and between
	// close and reopen on a device switch.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// VirtualSource is an optional WAV file the virtual backend plays as
	// its capture signal.
	VirtualSource string `yaml:"virtual_source"`
}

// Format returns the stream format described by c.
func (c AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:     c.SampleRate,
		InputChannels:  c.InputChannels,
		OutputChannels: c.OutputChannels,
		BlockSize:      c.BlockSize,
	}
}

// StreamConfig returns the devices and format as an [audio.StreamConfig].
func (c AudioConfig) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		InputDevice:  c.InputDevice,
		OutputDevice: c.OutputDevice,
		Format:       c.Format(),
	}
}

// MetronomeConfig sets the tempo and click levels. Volumes are linear
// amplitudes in [0, 1].
type MetronomeConfig struct {
	BPM           float64 `yaml:"bpm"`
	ClickVolume   float64 `yaml:"click_volume"`
	AccentVolume  float64 `yaml:"accent_volume"`
	CountInVolume float64 `yaml:"count_in_volume"`
}

// Clicks returns the click synthesis settings for this section.
func (c MetronomeConfig) Clicks() metronome.ClickConfig {
	cc := metronome.DefaultClickConfig()
	cc.Volume = c.ClickVolume
	cc.AccentVolume = c.AccentVolume
	cc.CountInVolume = c.CountInVolume
	return cc
}

// RecordingConfig controls take capture and where accepted takes land.
type RecordingConfig struct {
	// MinTail is the minimum audio a take must hold after the last mora beat.
	MinTail time.Duration `yaml:"min_tail"`

	// OutputDir receives one WAV per accepted take.
	OutputDir string `yaml:"output_dir"`
}

// EditorConfig configures the marker editing surface.
type EditorConfig struct {
	// ValidationPolicy is "reject" or "clamp".
	ValidationPolicy string `yaml:"validation_policy"`
}

// Policy parses ValidationPolicy. Validation has already rejected unknown
// values, so the error is only reachable for unvalidated configs.
func (c EditorConfig) Policy() (oto.Policy, error) {
	return oto.ParsePolicy(c.ValidationPolicy)
}

// SettingsConfig locates the persisted device settings.
type SettingsConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}
