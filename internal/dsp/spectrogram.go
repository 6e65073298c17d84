// Package dsp holds the offline signal analysis used after a take is
// accepted: the STFT magnitude grid, the RMS envelope and onset detection.
// Nothing here is meant for the audio callback.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// SpectrogramConfig sets the STFT geometry.
type SpectrogramConfig struct {
	WindowSize int `yaml:"window_size"`
	Hop        int `yaml:"hop"`
}

// DefaultSpectrogramConfig returns a 2048-sample window with a 512 hop.
func DefaultSpectrogramConfig() SpectrogramConfig {
	return SpectrogramConfig{WindowSize: 2048, Hop: 512}
}

// Validate reports invalid geometry.
func (c SpectrogramConfig) Validate() error {
	var errs []error
	if c.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("window_size must be at least 2, got %d", c.WindowSize))
	}
	if c.Hop <= 0 {
		errs = append(errs, fmt.Errorf("hop must be positive, got %d", c.Hop))
	}
	return errors.Join(errs...)
}

// Grid is an STFT magnitude grid indexed [frame][bin]. Each frame has
// WindowSize/2+1 bins; frame f starts at sample f*Hop.
type Grid struct {
	WindowSize int
	Hop        int
	Frames     [][]float64
}

// Bins returns the number of frequency bins per frame.
func (g Grid) Bins() int { return g.WindowSize/2 + 1 }

// Envelope is the RMS of the signal per hop; value i covers samples
// [i*Hop, (i+1)*Hop).
type Envelope struct {
	Hop    int
	Values []float64
}

// At returns the envelope value covering sample i, or 0 outside the signal.
func (e Envelope) At(i int) float64 {
	if i < 0 || e.Hop <= 0 || i/e.Hop >= len(e.Values) {
		return 0
	}
	return e.Values[i/e.Hop]
}

// SpectrogramEngine computes spectrograms with a reusable FFT plan. An
// engine is not safe for concurrent use; create one per goroutine.
type SpectrogramEngine struct {
	cfg SpectrogramConfig
	fft *fourier.FFT
	win []float64
	buf []float64
}

// NewSpectrogramEngine plans an FFT for cfg.
func NewSpectrogramEngine(cfg SpectrogramConfig) (*SpectrogramEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dsp: %w", err)
	}
	win := make([]float64, cfg.WindowSize)
	for i := range win {
		win[i] = 1
	}
	return &SpectrogramEngine{
		cfg: cfg,
		fft: fourier.NewFFT(cfg.WindowSize),
		win: window.Hann(win),
		buf: make([]float64, cfg.WindowSize),
	}, nil
}

// Compute returns the magnitude grid and RMS envelope of mono samples. The
// result depends only on samples and the engine's configuration.
func (e *SpectrogramEngine) Compute(samples []float64) (Grid, Envelope) {
	n, hop := e.cfg.WindowSize, e.cfg.Hop
	g := Grid{WindowSize: n, Hop: hop}

	frames := 0
	if len(samples) > 0 {
		frames = 1 + max(0, len(samples)-n+hop-1)/hop
	}
	g.Frames = make([][]float64, frames)
	coeffs := make([]complex128, n/2+1)
	for f := range frames {
		start := f * hop
		for k := range n {
			if start+k < len(samples) {
				e.buf[k] = samples[start+k] * e.win[k]
			} else {
				e.buf[k] = 0
			}
		}
		coeffs = e.fft.Coefficients(coeffs, e.buf)
		mags := make([]float64, len(coeffs))
		for b, c := range coeffs {
			mags[b] = cmplx.Abs(c)
		}
		g.Frames[f] = mags
	}

	return g, RMSEnvelope(samples, hop)
}

// Spectrogram is a one-shot [SpectrogramEngine.Compute].
func Spectrogram(samples []float64, cfg SpectrogramConfig) (Grid, Envelope, error) {
	e, err := NewSpectrogramEngine(cfg)
	if err != nil {
		return Grid{}, Envelope{}, err
	}
	g, env := e.Compute(samples)
	return g, env, nil
}

// RMSEnvelope returns the RMS of samples per hop.
func RMSEnvelope(samples []float64, hop int) Envelope {
	env := Envelope{Hop: hop}
	if hop <= 0 {
		return env
	}
	env.Values = make([]float64, (len(samples)+hop-1)/hop)
	for i := range env.Values {
		seg := samples[i*hop : min((i+1)*hop, len(samples))]
		var sum float64
		for _, v := range seg {
			sum += v * v
		}
		env.Values[i] = math.Sqrt(sum / float64(len(seg)))
	}
	return env
}
