package dsp

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// DetectorConfig tunes [TransientDetector].
type DetectorConfig struct {
	// FrameSize and Hop set the short-time energy frames in samples.
	FrameSize int `yaml:"frame_size"`
	Hop       int `yaml:"hop"`

	// ThresholdRatio is the energy multiple of the noise floor that counts
	// as an onset.
	ThresholdRatio float64 `yaml:"threshold_ratio"`

	// NoisePercentile picks the noise floor from the distribution of frame
	// energies in the search range, in (0,1).
	NoisePercentile float64 `yaml:"noise_percentile"`

	// SustainFrames is how many consecutive frames must stay above the
	// threshold. With SustainFrames*Hop > FrameSize a single click cannot
	// satisfy it.
	SustainFrames int `yaml:"sustain_frames"`

	// MinFloor bounds the noise floor from below so digital silence does
	// not turn every dither sample into an onset.
	MinFloor float64 `yaml:"min_floor"`
}

// DefaultDetectorConfig returns tuning that rejects clicks up to a few
// milliseconds at 44.1 kHz.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		FrameSize:       256,
		Hop:             64,
		ThresholdRatio:  8,
		NoisePercentile: 0.1,
		SustainFrames:   6,
		MinFloor:        1e-8,
	}
}

// Validate reports every invalid field.
func (c DetectorConfig) Validate() error {
	var errs []error
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame_size must be positive, got %d", c.FrameSize))
	}
	if c.Hop <= 0 || c.Hop > c.FrameSize {
		errs = append(errs, fmt.Errorf("hop must be in (0, frame_size], got %d", c.Hop))
	}
	if c.ThresholdRatio <= 1 {
		errs = append(errs, fmt.Errorf("threshold_ratio must be greater than 1, got %g", c.ThresholdRatio))
	}
	if c.NoisePercentile <= 0 || c.NoisePercentile >= 1 {
		errs = append(errs, fmt.Errorf("noise_percentile must be in (0,1), got %g", c.NoisePercentile))
	}
	if c.SustainFrames < 1 {
		errs = append(errs, fmt.Errorf("sustain_frames must be at least 1, got %d", c.SustainFrames))
	}
	if c.MinFloor <= 0 {
		errs = append(errs, fmt.Errorf("min_floor must be positive, got %g", c.MinFloor))
	}
	return errors.Join(errs...)
}

// TransientDetector finds the first sustained rising edge of short-time
// energy. It is stateless and safe for concurrent use.
type TransientDetector struct {
	cfg DetectorConfig
}

// NewTransientDetector validates cfg and returns a detector.
func NewTransientDetector(cfg DetectorConfig) (*TransientDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dsp: %w", err)
	}
	return &TransientDetector{cfg: cfg}, nil
}

// Config returns the detector tuning.
func (d *TransientDetector) Config() DetectorConfig { return d.cfg }

// Detect searches samples[start:end) and returns the index of the onset.
// When nothing crosses the threshold it returns start and false.
func (d *TransientDetector) Detect(samples []float64, start, end int) (int, bool) {
	start = max(start, 0)
	end = min(end, len(samples))
	fs, hop := d.cfg.FrameSize, d.cfg.Hop
	if end-start < fs {
		return start, false
	}

	energies := make([]float64, 1+(end-start-fs)/hop)
	for k := range energies {
		var sum float64
		for _, v := range samples[start+k*hop : start+k*hop+fs] {
			sum += v * v
		}
		energies[k] = sum / float64(fs)
	}

	sorted := slices.Clone(energies)
	slices.Sort(sorted)
	floor := max(stat.Quantile(d.cfg.NoisePercentile, stat.Empirical, sorted, nil), d.cfg.MinFloor)
	threshold := floor * d.cfg.ThresholdRatio

	for k, e := range energies {
		if e < threshold || (k > 0 && energies[k-1] >= threshold) {
			continue
		}
		if k+d.cfg.SustainFrames > len(energies) {
			break
		}
		if !sustained(energies[k:k+d.cfg.SustainFrames], threshold) {
			continue
		}
		return refine(samples[start+k*hop:start+k*hop+fs], math.Sqrt(threshold)) + start + k*hop, true
	}
	return start, false
}

func sustained(energies []float64, threshold float64) bool {
	for _, e := range energies {
		if e < threshold {
			return false
		}
	}
	return true
}

// refine returns the first index in frame whose amplitude reaches level.
func refine(frame []float64, level float64) int {
	for i, v := range frame {
		if math.Abs(v) >= level {
			return i
		}
	}
	return 0
}
