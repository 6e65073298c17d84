package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/recording"
	"gopkg.in/yaml.v3"
)

// ValidBackends lists the audio backend names accepted in audio.backend.
var ValidBackends = []string{"malgo", "virtual"}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultBackend        = "malgo"
	DefaultSampleRate     = 44100
	DefaultInputChannels  = 1
	DefaultOutputChannels = 2
	DefaultBlockSize      = 512
	DefaultBPM            = 120
	DefaultOutputDir      = "takes"
	DefaultSettingsPath   = "vocalparam.db"
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultMinTail        = recording.MinimumTail
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
// Explicitly set fields are left alone.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.Backend, DefaultBackend)
	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.InputChannels, DefaultInputChannels)
	setDefault(&cfg.Audio.OutputChannels, DefaultOutputChannels)
	setDefault(&cfg.Audio.BlockSize, DefaultBlockSize)
	setDefault(&cfg.Audio.RetryDelay, DefaultRetryDelay)

	clicks := metronome.DefaultClickConfig()
	setDefault(&cfg.Metronome.BPM, DefaultBPM)
	setDefault(&cfg.Metronome.ClickVolume, clicks.Volume)
	setDefault(&cfg.Metronome.AccentVolume, clicks.AccentVolume)
	setDefault(&cfg.Metronome.CountInVolume, clicks.CountInVolume)

	setDefault(&cfg.Recording.MinTail, DefaultMinTail)
	setDefault(&cfg.Recording.OutputDir, DefaultOutputDir)

	est := oto.DefaultEstimatorConfig()
	setDefault(&cfg.Estimator.PreUtteranceBeats, est.PreUtteranceBeats)
	setDefault(&cfg.Estimator.ConsonantBeats, est.ConsonantBeats)
	setDefault(&cfg.Estimator.OverlapRatio, est.OverlapRatio)
	setDefault(&cfg.Estimator.MinOverlapMargin, est.MinOverlapMargin)
	setDefault(&cfg.Estimator.CutoffTail, est.CutoffTail)

	det := dsp.DefaultDetectorConfig()
	setDefault(&cfg.Detector.FrameSize, det.FrameSize)
	setDefault(&cfg.Detector.Hop, det.Hop)
	setDefault(&cfg.Detector.ThresholdRatio, det.ThresholdRatio)
	setDefault(&cfg.Detector.NoisePercentile, det.NoisePercentile)
	setDefault(&cfg.Detector.SustainFrames, det.SustainFrames)
	setDefault(&cfg.Detector.MinFloor, det.MinFloor)

	spec := dsp.DefaultSpectrogramConfig()
	setDefault(&cfg.Spectrogram.WindowSize, spec.WindowSize)
	setDefault(&cfg.Spectrogram.Hop, spec.Hop)

	setDefault(&cfg.Editor.ValidationPolicy, oto.PolicyReject.String())
	setDefault(&cfg.Settings.Path, DefaultSettingsPath)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if !slices.Contains(ValidBackends, cfg.Audio.Backend) {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: %v", cfg.Audio.Backend, ValidBackends))
	}
	if err := cfg.Audio.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("audio.retry_delay %v must not be negative", cfg.Audio.RetryDelay))
	}
	if cfg.Audio.VirtualSource != "" && cfg.Audio.Backend != "virtual" {
		slog.Warn("audio.virtual_source is ignored unless audio.backend is virtual", "backend", cfg.Audio.Backend)
	}

	// Metronome
	if cfg.Metronome.BPM < 30 || cfg.Metronome.BPM > 300 {
		errs = append(errs, fmt.Errorf("metronome.bpm %g is out of range [30, 300]", cfg.Metronome.BPM))
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"click_volume", cfg.Metronome.ClickVolume},
		{"accent_volume", cfg.Metronome.AccentVolume},
		{"count_in_volume", cfg.Metronome.CountInVolume},
	} {
		if v.value < 0 || v.value > 1 {
			errs = append(errs, fmt.Errorf("metronome.%s %.2f is out of range [0, 1]", v.name, v.value))
		}
	}

	// Recording
	if cfg.Recording.MinTail < recording.MinimumTail {
		errs = append(errs, fmt.Errorf("recording.min_tail %v is below the minimum %v", cfg.Recording.MinTail, recording.MinimumTail))
	}
	if cfg.Recording.OutputDir == "" {
		errs = append(errs, errors.New("recording.output_dir is required"))
	}

	// Analysis
	if err := cfg.Estimator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("estimator: %w", err))
	}
	if err := cfg.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := cfg.Spectrogram.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spectrogram: %w", err))
	}

	// Editor
	if _, err := cfg.Editor.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("editor.validation_policy %q is invalid; valid values: reject, clamp", cfg.Editor.ValidationPolicy))
	}

	// Settings
	if cfg.Settings.Path == "" {
		errs = append(errs, errors.New("settings.path is required"))
	}

	return errors.Join(errs...)
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
