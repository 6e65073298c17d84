package analysis_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
)

const rate = 44100

func newWorker(t *testing.T, s *store.Store) *analysis.Worker {
	t.Helper()
	det, err := dsp.NewTransientDetector(dsp.DefaultDetectorConfig())
	if err != nil {
		t.Fatal(err)
	}
	est, err := oto.NewEstimator(oto.DefaultEstimatorConfig(), det)
	if err != nil {
		t.Fatal(err)
	}
	w, err := analysis.NewWorker(analysis.Config{
		Store:       s,
		Estimator:   est,
		Spectrogram: dsp.DefaultSpectrogramConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// sungTake returns a take with a tone starting at onset.
func sungTake(t *testing.T, alias string, frames, onset int) *recording.Take {
	t.Helper()
	g, err := metronome.NewGrid(120, rate)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]int16, frames)
	for i := range samples {
		// Deterministic low-level dither.
		samples[i] = int16((i*7919)%61 - 30)
	}
	for i := onset; i < min(onset+60_000, frames); i++ {
		samples[i] += int16(12000 * math.Sin(2*math.Pi*330*float64(i-onset)/rate))
	}
	return &recording.Take{
		Line:       recording.Line{Alias: alias},
		Samples:    samples,
		Channels:   1,
		SampleRate: rate,
		Grid:       g,
	}
}

func waitFor(t *testing.T, events <-chan store.Event, alias string, kind store.EventKind) store.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Record.Alias == alias && ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s on %q", kind, alias)
		}
	}
}

func TestWorker_CommitsEstimate(t *testing.T) {
	t.Parallel()
	s := store.New()
	w := newWorker(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	events, unsub := s.Subscribe(16)
	defer unsub()

	take := sungTake(t, "ka", 374850, 90_000)
	gen, err := w.Submit(ctx, take, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev := waitFor(t, events, "ka", store.EventCommitted)
	if ev.Record.Generation != gen {
		t.Errorf("generation = %d, want %d", ev.Record.Generation, gen)
	}
	if off := ev.Record.Entry.Offset; off < 90_000 || off > 90_010 {
		t.Errorf("offset = %d, want near 90000", off)
	}

	res, ok := w.Result("ka")
	if !ok {
		t.Fatal("no analysis result kept")
	}
	if len(res.Grid.Frames) == 0 || len(res.Envelope.Values) == 0 {
		t.Error("spectrogram or envelope empty")
	}
	if res.Estimate.Entry != ev.Record.Entry {
		t.Error("kept estimate differs from committed entry")
	}
}

func TestWorker_ShortTakeFails(t *testing.T) {
	t.Parallel()
	s := store.New()
	w := newWorker(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	events, unsub := s.Subscribe(16)
	defer unsub()

	if _, err := w.Submit(ctx, sungTake(t, "a", 100_000, 70_000), ""); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, events, "a", store.EventFailed)
	if ev.Record.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", ev.Record.Status)
	}
}

func TestWorker_AnalyzeDeterministic(t *testing.T) {
	t.Parallel()
	w := newWorker(t, store.New())
	take := sungTake(t, "sa", 374850, 100_000)

	a, err := w.Analyze(context.Background(), take)
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Analyze(context.Background(), take)
	if err != nil {
		t.Fatal(err)
	}
	if a.Estimate != b.Estimate {
		t.Errorf("estimates differ: %+v vs %+v", a.Estimate, b.Estimate)
	}
}

func TestWorker_SubmitAfterStop(t *testing.T) {
	t.Parallel()
	w := newWorker(t, store.New())
	w.Start(context.Background())
	w.Stop()
	w.Stop()
	if _, err := w.Submit(context.Background(), sungTake(t, "a", 1000, 0), ""); !errors.Is(err, analysis.ErrStopped) {
		t.Errorf("Submit = %v, want ErrStopped", err)
	}
}

func TestWorker_Reconfigure(t *testing.T) {
	t.Parallel()
	w := newWorker(t, store.New())
	if err := w.Reconfigure(nil, dsp.DefaultSpectrogramConfig()); err == nil {
		t.Error("nil estimator accepted")
	}
	det, _ := dsp.NewTransientDetector(dsp.DefaultDetectorConfig())
	est, _ := oto.NewEstimator(oto.DefaultEstimatorConfig(), det)
	if err := w.Reconfigure(est, dsp.SpectrogramConfig{WindowSize: 1024, Hop: 256}); err != nil {
		t.Fatal(err)
	}
	res, err := w.Analyze(context.Background(), sungTake(t, "a", 374850, 90_000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Grid.WindowSize != 1024 {
		t.Errorf("window = %d, want 1024", res.Grid.WindowSize)
	}
}
