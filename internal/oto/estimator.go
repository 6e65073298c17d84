package oto

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/vocalparam/internal/metronome"
)

// EstimatorConfig holds the placement ratios of the estimator. Beat ratios
// are fractions of one beat interval.
type EstimatorConfig struct {
	PreUtteranceBeats float64       `yaml:"pre_utterance_beats"`
	ConsonantBeats    float64       `yaml:"consonant_beats"`
	OverlapRatio      float64       `yaml:"overlap_ratio"`
	MinOverlapMargin  time.Duration `yaml:"min_overlap_margin"`
	CutoffTail        time.Duration `yaml:"cutoff_tail"`
}

// DefaultEstimatorConfig returns the stock placement.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		PreUtteranceBeats: 0.12,
		ConsonantBeats:    0.16,
		OverlapRatio:      0.5,
		MinOverlapMargin:  5 * time.Millisecond,
		CutoffTail:        4 * time.Second,
	}
}

// Validate reports every invalid field.
func (c EstimatorConfig) Validate() error {
	var errs []error
	if c.PreUtteranceBeats <= 0 || c.PreUtteranceBeats > 1 {
		errs = append(errs, fmt.Errorf("pre_utterance_beats must be in (0,1], got %g", c.PreUtteranceBeats))
	}
	if c.ConsonantBeats <= 0 || c.ConsonantBeats > 1 {
		errs = append(errs, fmt.Errorf("consonant_beats must be in (0,1], got %g", c.ConsonantBeats))
	}
	if c.OverlapRatio <= 0 || c.OverlapRatio >= 1 {
		errs = append(errs, fmt.Errorf("overlap_ratio must be in (0,1), got %g", c.OverlapRatio))
	}
	if c.MinOverlapMargin <= 0 {
		errs = append(errs, fmt.Errorf("min_overlap_margin must be positive, got %s", c.MinOverlapMargin))
	}
	if c.CutoffTail < 0 {
		errs = append(errs, fmt.Errorf("cutoff_tail must not be negative, got %s", c.CutoffTail))
	}
	return errors.Join(errs...)
}

// OnsetDetector finds the onset of the utterance in samples[start:end).
// When nothing is found it returns start and false.
type OnsetDetector interface {
	Detect(samples []float64, start, end int) (int, bool)
}

// EstimationError reports a take that cannot be estimated.
type EstimationError struct {
	Reason   string
	Duration int64
	Required int64
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("oto: cannot estimate: %s (take has %d samples, needs %d)", e.Reason, e.Duration, e.Required)
}

// Input is one take to estimate: mono samples at the grid's sample rate,
// sample 0 on beat zero.
type Input struct {
	Samples []float64
	Grid    metronome.Grid
}

// Estimate is the estimator output.
type Estimate struct {
	Entry Entry
	// Onset is the raw detector hit, before clamping.
	Onset int64
	// Fallback is set when no onset was found and the search range start
	// was used instead.
	Fallback bool
}

// Estimator places the five markers from a detected onset and the beat
// grid. It holds no mutable state; the same input always yields the same
// entry.
type Estimator struct {
	cfg      EstimatorConfig
	detector OnsetDetector
}

// NewEstimator returns an estimator using detector for onset search.
func NewEstimator(cfg EstimatorConfig, detector OnsetDetector) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	if detector == nil {
		return nil, errors.New("oto: estimator needs an onset detector")
	}
	return &Estimator{cfg: cfg, detector: detector}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() EstimatorConfig { return e.cfg }

func toSamples(d time.Duration, rate int) int64 {
	return int64(math.Round(d.Seconds() * float64(rate)))
}

// Estimate runs onset detection after the count-in and places the markers:
//
//	preutterance = offset + max(round(pre_utterance_beats*B), 2*margin)
//	consonant    = offset + max(round(consonant_beats*B), pre gap)
//	overlap      = offset + round(overlap_ratio*pre gap), at most preutterance-margin
//	cutoff       = -min(cutoff_tail, duration-consonant)
func (e *Estimator) Estimate(in Input) (Estimate, error) {
	rate := in.Grid.SampleRate()
	duration := int64(len(in.Samples))
	beat := in.Grid.BeatInterval()
	margin := max(toSamples(e.cfg.MinOverlapMargin, rate), 1)
	tail := toSamples(e.cfg.CutoffTail, rate)

	preGap := max(int64(math.Round(e.cfg.PreUtteranceBeats*beat)), 2*margin)
	conGap := max(int64(math.Round(e.cfg.ConsonantBeats*beat)), preGap)

	start := in.Grid.CountInEnd()
	if required := start + conGap + tail; duration < required {
		return Estimate{}, &EstimationError{
			Reason:   "buffer too short",
			Duration: duration,
			Required: required,
		}
	}

	hit, found := e.detector.Detect(in.Samples, int(start), int(duration))
	onset := int64(hit)
	if !found {
		onset = start
	}
	// The consonant must end before the cutoff tail starts.
	offset := min(max(onset, 0), duration-tail-conGap)

	entry := Entry{
		Offset:       offset,
		PreUtterance: offset + preGap,
		Consonant:    offset + conGap,
	}
	entry.Overlap = min(offset+int64(math.Round(e.cfg.OverlapRatio*float64(preGap))), entry.PreUtterance-margin)
	entry.Cutoff = -tail

	if err := Validate(entry, duration); err != nil {
		return Estimate{}, fmt.Errorf("oto: estimate produced invalid entry: %w", err)
	}
	return Estimate{Entry: entry, Onset: int64(hit), Fallback: !found}, nil
}
