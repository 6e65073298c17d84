package dsp_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/vocalparam/internal/dsp"
)

const rate = 44100

// noisyTake returns n samples of low-level noise with a 440 Hz tone of the
// given amplitude starting at onset and lasting toneLen samples.
func noisyTake(n, onset, toneLen int, amp float64) []float64 {
	r := rand.New(rand.NewPCG(1, 2))
	x := make([]float64, n)
	for i := range x {
		x[i] = (r.Float64()*2 - 1) * 1e-3
	}
	for i := onset; i < min(onset+toneLen, n); i++ {
		x[i] += amp * math.Sin(2*math.Pi*440*float64(i-onset)/rate)
	}
	return x
}

func TestSpectrogram_Shape(t *testing.T) {
	t.Parallel()
	x := make([]float64, 10_000)
	g, env, err := dsp.Spectrogram(x, dsp.SpectrogramConfig{WindowSize: 2048, Hop: 512})
	if err != nil {
		t.Fatal(err)
	}
	// 1 + ceil((10000-2048)/512) = 17 frames.
	if len(g.Frames) != 17 {
		t.Errorf("frames = %d, want 17", len(g.Frames))
	}
	if got := len(g.Frames[0]); got != 1025 || g.Bins() != 1025 {
		t.Errorf("bins = %d, want 1025", got)
	}
	if len(env.Values) != 20 {
		t.Errorf("envelope values = %d, want 20", len(env.Values))
	}
}

func TestSpectrogram_PeakAtToneBin(t *testing.T) {
	t.Parallel()
	const n = 2048
	freq := 20 * float64(rate) / n // exactly on bin 20
	x := make([]float64, 8192)
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	g, _, err := dsp.Spectrogram(x, dsp.DefaultSpectrogramConfig())
	if err != nil {
		t.Fatal(err)
	}
	frame := g.Frames[1]
	peak := 0
	for b := range frame {
		if frame[b] > frame[peak] {
			peak = b
		}
	}
	if peak != 20 {
		t.Errorf("peak bin = %d, want 20", peak)
	}
}

func TestSpectrogram_Deterministic(t *testing.T) {
	t.Parallel()
	x := noisyTake(20_000, 5_000, 10_000, 0.4)
	g1, e1, _ := dsp.Spectrogram(x, dsp.DefaultSpectrogramConfig())
	g2, e2, _ := dsp.Spectrogram(x, dsp.DefaultSpectrogramConfig())
	for f := range g1.Frames {
		for b := range g1.Frames[f] {
			if g1.Frames[f][b] != g2.Frames[f][b] {
				t.Fatalf("frame %d bin %d differs", f, b)
			}
		}
	}
	for i := range e1.Values {
		if e1.Values[i] != e2.Values[i] {
			t.Fatalf("envelope %d differs", i)
		}
	}
}

func TestSpectrogram_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, _, err := dsp.Spectrogram(nil, dsp.SpectrogramConfig{WindowSize: 0, Hop: 0}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRMSEnvelope(t *testing.T) {
	t.Parallel()
	x := []float64{1, -1, 1, -1, 0.5, 0.5}
	env := dsp.RMSEnvelope(x, 4)
	if len(env.Values) != 2 {
		t.Fatalf("values = %d, want 2", len(env.Values))
	}
	if env.Values[0] != 1 || env.Values[1] != 0.5 {
		t.Errorf("values = %v, want [1 0.5]", env.Values)
	}
	if env.At(5) != 0.5 || env.At(100) != 0 {
		t.Errorf("At() mismatch")
	}
}

func newDetector(t *testing.T) *dsp.TransientDetector {
	t.Helper()
	d, err := dsp.NewTransientDetector(dsp.DefaultDetectorConfig())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDetect_FindsOnset(t *testing.T) {
	t.Parallel()
	x := noisyTake(rate, 8820, 20_000, 0.5)
	idx, found := newDetector(t).Detect(x, 0, len(x))
	if !found {
		t.Fatal("onset not found")
	}
	if idx < 8820 || idx > 8825 {
		t.Errorf("onset = %d, want within 5 samples after 8820", idx)
	}
}

func TestDetect_IgnoresClick(t *testing.T) {
	t.Parallel()
	x := noisyTake(rate, 20_000, 15_000, 0.5)
	for i := 4000; i < 4020; i++ {
		x[i] = 0.8
	}
	idx, found := newDetector(t).Detect(x, 0, len(x))
	if !found {
		t.Fatal("onset not found")
	}
	if idx < 20_000 || idx > 20_005 {
		t.Errorf("onset = %d, want the tone at 20000, not the click at 4000", idx)
	}
}

func TestDetect_SilenceFallsBack(t *testing.T) {
	t.Parallel()
	x := make([]float64, rate)
	idx, found := newDetector(t).Detect(x, 1234, len(x))
	if found {
		t.Error("found onset in digital silence")
	}
	if idx != 1234 {
		t.Errorf("idx = %d, want range start 1234", idx)
	}
}

func TestDetect_RangeRespected(t *testing.T) {
	t.Parallel()
	x := noisyTake(rate, 2000, 40_000, 0.5)
	// The tone is already sounding before the range; start must be reported
	// as the earliest possible result and never earlier.
	idx, _ := newDetector(t).Detect(x, 10_000, len(x))
	if idx < 10_000 {
		t.Errorf("idx = %d is before range start", idx)
	}
}

func TestDetectorConfig_Validate(t *testing.T) {
	t.Parallel()
	bad := dsp.DetectorConfig{FrameSize: 0, Hop: 0, ThresholdRatio: 1, NoisePercentile: 1, SustainFrames: 0, MinFloor: 0}
	if _, err := dsp.NewTransientDetector(bad); err == nil {
		t.Fatal("expected validation error")
	}
}
