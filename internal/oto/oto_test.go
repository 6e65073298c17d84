package oto_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/internal/oto"
)

const (
	rate       = 44100
	takeFrames = 374850 // capture target at 120 BPM with a 4 s tail
)

type stubDetector struct {
	idx   int
	found bool
}

func (s stubDetector) Detect(_ []float64, start, _ int) (int, bool) {
	if !s.found {
		return start, false
	}
	return s.idx, true
}

func grid120(t *testing.T) metronome.Grid {
	t.Helper()
	g, err := metronome.NewGrid(120, rate)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func newEstimator(t *testing.T, d oto.OnsetDetector) *oto.Estimator {
	t.Helper()
	e, err := oto.NewEstimator(oto.DefaultEstimatorConfig(), d)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// scenarioEntry is the estimate for an onset at 8820 on a 120 BPM take.
var scenarioEntry = oto.Entry{
	Offset:       8820,
	Overlap:      10143,
	PreUtterance: 11466,
	Consonant:    12348,
	Cutoff:       -176400,
}

func TestEstimate_OnsetScenario(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, stubDetector{idx: 8820, found: true})

	est, err := e.Estimate(oto.Input{Samples: make([]float64, takeFrames), Grid: grid120(t)})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	got := est.Entry
	if got.Offset != 8820 {
		t.Errorf("offset = %d, want 8820", got.Offset)
	}
	if got.PreUtterance <= got.Offset || got.Overlap <= got.Offset {
		t.Errorf("preutterance %d and overlap %d must lie after offset", got.PreUtterance, got.Overlap)
	}
	if got.Overlap >= got.PreUtterance {
		t.Errorf("overlap %d must be before preutterance %d", got.Overlap, got.PreUtterance)
	}
	if -got.Cutoff < 4*rate {
		t.Errorf("cutoff %d leaves less than 4 s", got.Cutoff)
	}
	if got != scenarioEntry {
		t.Errorf("entry = %+v, want %+v", got, scenarioEntry)
	}
	if est.Fallback {
		t.Error("Fallback set for a detected onset")
	}
}

func TestEstimate_TooShort(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, stubDetector{idx: 70000, found: true})
	// count-in end + consonant gap + cutoff tail = 66150 + 3528 + 176400
	_, err := e.Estimate(oto.Input{Samples: make([]float64, 246077), Grid: grid120(t)})
	var ee *oto.EstimationError
	if !errors.As(err, &ee) {
		t.Fatalf("Estimate = %v, want EstimationError", err)
	}
	if ee.Required != 246078 {
		t.Errorf("Required = %d, want 246078", ee.Required)
	}
}

func TestEstimate_SilentTakeFallsBack(t *testing.T) {
	t.Parallel()
	d, err := dsp.NewTransientDetector(dsp.DefaultDetectorConfig())
	if err != nil {
		t.Fatal(err)
	}
	e := newEstimator(t, d)
	g := grid120(t)

	est, err := e.Estimate(oto.Input{Samples: make([]float64, takeFrames), Grid: g})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !est.Fallback {
		t.Error("Fallback not set for a silent take")
	}
	if est.Entry.Offset != g.CountInEnd() {
		t.Errorf("offset = %d, want count-in end %d", est.Entry.Offset, g.CountInEnd())
	}
	if err := oto.Validate(est.Entry, takeFrames); err != nil {
		t.Errorf("fallback entry invalid: %v", err)
	}
}

func TestEstimate_Idempotent(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(3, 4))
	x := make([]float64, takeFrames)
	for i := range x {
		x[i] = (r.Float64()*2 - 1) * 1e-3
	}
	for i := 80_000; i < 150_000; i++ {
		x[i] += 0.4 * math.Sin(2*math.Pi*220*float64(i)/rate)
	}
	d, _ := dsp.NewTransientDetector(dsp.DefaultDetectorConfig())
	e := newEstimator(t, d)
	in := oto.Input{Samples: x, Grid: grid120(t)}

	a, err := e.Estimate(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Estimate(in)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("estimates differ: %+v vs %+v", a, b)
	}
	if a.Fallback || a.Entry.Offset < 80_000 || a.Entry.Offset > 80_010 {
		t.Errorf("offset = %d (fallback %v), want onset near 80000", a.Entry.Offset, a.Fallback)
	}
}

func TestEstimate_OnsetNearEndKeepsOrder(t *testing.T) {
	t.Parallel()
	e := newEstimator(t, stubDetector{idx: takeFrames - 10, found: true})
	est, err := e.Estimate(oto.Input{Samples: make([]float64, takeFrames), Grid: grid120(t)})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if err := oto.Validate(est.Entry, takeFrames); err != nil {
		t.Errorf("entry invalid: %v", err)
	}
	const tail = 4 * rate
	if est.Entry.Cutoff != -tail {
		t.Errorf("Cutoff = %d, want %d", est.Entry.Cutoff, -tail)
	}
	if est.Entry.Consonant > takeFrames-tail {
		t.Errorf("Consonant = %d, past the tail start %d", est.Entry.Consonant, takeFrames-tail)
	}
}

func TestEstimate_CutoffIndependentOfOnset(t *testing.T) {
	t.Parallel()
	for _, idx := range []int{0, 8820, 66150, 150000, takeFrames - 4*rate, takeFrames - 1} {
		e := newEstimator(t, stubDetector{idx: idx, found: true})
		est, err := e.Estimate(oto.Input{Samples: make([]float64, takeFrames), Grid: grid120(t)})
		if err != nil {
			t.Fatalf("onset %d: Estimate: %v", idx, err)
		}
		if est.Entry.Cutoff != -4*rate {
			t.Errorf("onset %d: Cutoff = %d, want %d", idx, est.Entry.Cutoff, -4*rate)
		}
	}
}

func TestEstimatorConfig_Validate(t *testing.T) {
	t.Parallel()
	if err := oto.DefaultEstimatorConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	tests := []struct {
		name string
		edit func(c *oto.EstimatorConfig)
	}{
		{"zero pre-utterance", func(c *oto.EstimatorConfig) { c.PreUtteranceBeats = 0 }},
		{"consonant above one beat", func(c *oto.EstimatorConfig) { c.ConsonantBeats = 2 }},
		{"overlap ratio of zero", func(c *oto.EstimatorConfig) { c.OverlapRatio = 0 }},
		{"overlap ratio of one", func(c *oto.EstimatorConfig) { c.OverlapRatio = 1 }},
		{"negative overlap ratio", func(c *oto.EstimatorConfig) { c.OverlapRatio = -0.1 }},
		{"zero margin", func(c *oto.EstimatorConfig) { c.MinOverlapMargin = 0 }},
		{"negative tail", func(c *oto.EstimatorConfig) { c.CutoffTail = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := oto.DefaultEstimatorConfig()
			tc.edit(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidate_Rules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(e oto.Entry) oto.Entry
		rule oto.Rule
	}{
		{"negative offset", func(e oto.Entry) oto.Entry { e.Offset = -1; return e }, oto.RuleOffsetNonNegative},
		{"offset at pre", func(e oto.Entry) oto.Entry { e.Offset = e.PreUtterance; return e }, oto.RuleOffsetBeforePre},
		{"negative overlap", func(e oto.Entry) oto.Entry { e.Overlap = -5; return e }, oto.RuleOverlapNonNegative},
		{"golden rule", func(e oto.Entry) oto.Entry { e.Overlap = e.PreUtterance + 1; return e }, oto.RuleGoldenRule},
		{"pre after consonant", func(e oto.Entry) oto.Entry { e.PreUtterance = e.Consonant + 1; return e }, oto.RulePreBeforeConsonant},
		{"positive cutoff", func(e oto.Entry) oto.Entry { e.Cutoff = 10; return e }, oto.RuleCutoffNonPositive},
		{"consonant past cutoff", func(e oto.Entry) oto.Entry { e.Cutoff = -(takeFrames - e.Consonant) - 1; return e }, oto.RuleConsonantBeforeTail},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := oto.Validate(tc.edit(scenarioEntry), takeFrames)
			var ve *oto.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate = %v, want ValidationError", err)
			}
			if ve.Rule != tc.rule {
				t.Errorf("rule = %s, want %s", ve.Rule, tc.rule)
			}
		})
	}
	if err := oto.Validate(scenarioEntry, takeFrames); err != nil {
		t.Errorf("scenario entry invalid: %v", err)
	}
}

func TestApply_OverlapPastPreRejected(t *testing.T) {
	t.Parallel()
	got, err := oto.Apply(scenarioEntry, oto.MarkerOverlap, scenarioEntry.PreUtterance+500, takeFrames, oto.PolicyReject)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if got != scenarioEntry {
		t.Errorf("entry changed on rejection: %+v", got)
	}
}

func TestApply_Commits(t *testing.T) {
	t.Parallel()
	got, err := oto.Apply(scenarioEntry, oto.MarkerOverlap, 9000, takeFrames, oto.PolicyReject)
	if err != nil {
		t.Fatal(err)
	}
	want := scenarioEntry
	want.Overlap = 9000
	if got != want {
		t.Errorf("entry = %+v, want %+v", got, want)
	}
}

func TestApply_ClampPolicy(t *testing.T) {
	t.Parallel()
	got, err := oto.Apply(scenarioEntry, oto.MarkerOverlap, scenarioEntry.PreUtterance+500, takeFrames, oto.PolicyClamp)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Overlap != scenarioEntry.PreUtterance {
		t.Errorf("overlap = %d, want clamped to %d", got.Overlap, scenarioEntry.PreUtterance)
	}

	got, err = oto.Apply(scenarioEntry, oto.MarkerPreUtterance, 10000, takeFrames, oto.PolicyClamp)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Overlap != 10000 {
		t.Errorf("overlap = %d, want pulled down to 10000", got.Overlap)
	}

	// Other rules are not clamped.
	if _, err := oto.Apply(scenarioEntry, oto.MarkerOffset, -1, takeFrames, oto.PolicyClamp); err == nil {
		t.Error("negative offset accepted under clamp policy")
	}
}

func TestMoveAll(t *testing.T) {
	t.Parallel()
	got, err := oto.MoveAll(scenarioEntry, 1000, takeFrames)
	if err != nil {
		t.Fatal(err)
	}
	if got.Offset != 9820 || got.Overlap != 11143 || got.PreUtterance != 12466 || got.Consonant != 13348 {
		t.Errorf("moved entry = %+v", got)
	}
	if got.Cutoff != scenarioEntry.Cutoff {
		t.Errorf("cutoff moved to %d", got.Cutoff)
	}

	got, err = oto.MoveAll(scenarioEntry, -9000, takeFrames)
	if err == nil {
		t.Error("move before buffer start accepted")
	}
	if got != scenarioEntry {
		t.Error("entry changed on rejected move")
	}
}

func TestCutoffFromPosition(t *testing.T) {
	t.Parallel()
	if got := oto.CutoffFromPosition(198450, takeFrames); got != -176400 {
		t.Errorf("CutoffFromPosition = %d, want -176400", got)
	}
	if got := oto.CutoffFromPosition(takeFrames+10, takeFrames); got != 0 {
		t.Errorf("past end = %d, want 0", got)
	}
	if got := scenarioEntry.CutoffPosition(takeFrames); got != 198450 {
		t.Errorf("CutoffPosition = %d, want 198450", got)
	}
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	got := oto.FormatLine("a ka sa.wav", "a ka sa", scenarioEntry, rate)
	want := "a ka sa.wav=a ka sa,200.0,280.0,-4000.0,260.0,230.0"
	if got != want {
		t.Errorf("FormatLine = %q, want %q", got, want)
	}
}

func TestLine_RoundTrip(t *testing.T) {
	t.Parallel()
	entries := []oto.Entry{
		scenarioEntry,
		{Offset: 1, Overlap: 3, PreUtterance: 7, Consonant: 11, Cutoff: -13},
		{Offset: 66151, Overlap: 66160, PreUtterance: 68797, Consonant: 69679, Cutoff: -176399},
	}
	for _, e := range entries {
		line := oto.FormatLine("x.wav", "x", e, rate)
		parsed, err := oto.ParseLine(line, rate)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
		if parsed.Filename != "x.wav" || parsed.Alias != "x" {
			t.Errorf("names = %q/%q", parsed.Filename, parsed.Alias)
		}
		// 0.1 ms at 44.1 kHz is 4.41 samples.
		for _, m := range oto.Markers {
			if d := parsed.Entry.Get(m) - e.Get(m); d > 3 || d < -3 {
				t.Errorf("%s drifted by %d samples", m, d)
			}
		}
		if again := oto.FormatLine("x.wav", "x", parsed.Entry, rate); again != line {
			t.Errorf("second round trip %q != %q", again, line)
		}
	}
}

func TestParseLine_Errors(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		"",
		"noequals",
		"a.wav=a,1,2,3",
		"a.wav=a,1,2,x,4,5",
	} {
		if _, err := oto.ParseLine(line, rate); err == nil {
			t.Errorf("ParseLine(%q) succeeded", line)
		}
	}
}

func TestParseMarker(t *testing.T) {
	t.Parallel()
	for _, m := range oto.Markers {
		got, err := oto.ParseMarker(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMarker(%q) = %v, %v", m.String(), got, err)
		}
	}
	if got, _ := oto.ParseMarker("fixed"); got != oto.MarkerConsonant {
		t.Errorf("fixed = %v, want consonant", got)
	}
	if _, err := oto.ParseMarker("bogus"); err == nil {
		t.Error("bogus marker accepted")
	}
}
