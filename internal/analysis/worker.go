// Package analysis runs Auto-OTO off the audio and request paths. Accepted
// takes are queued to a single worker goroutine which computes the
// spectrogram and the marker estimate of each take and commits the result
// to the parameter store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
)

// defaultQueueSize bounds the number of takes waiting for analysis.
const defaultQueueSize = 32

// ErrQueueFull is returned by [Worker.Submit] when the queue is full.
var ErrQueueFull = errors.New("analysis: queue full")

// ErrStopped is returned by [Worker.Submit] after [Worker.Stop].
var ErrStopped = errors.New("analysis: worker stopped")

// Result is the analysis kept for the editor views.
type Result struct {
	Alias      string
	Generation uint64
	Grid       dsp.Grid
	Envelope   dsp.Envelope
	Estimate   oto.Estimate
}

type job struct {
	take       *recording.Take
	generation uint64
}

// Config configures a [Worker].
type Config struct {
	Store       *store.Store
	Estimator   *oto.Estimator
	Spectrogram dsp.SpectrogramConfig
	Metrics     *observe.Metrics

	// QueueSize defaults to 32.
	QueueSize int
}

type settings struct {
	estimator   *oto.Estimator
	spectrogram dsp.SpectrogramConfig
}

// Worker owns the analysis queue. All methods are safe for concurrent use.
type Worker struct {
	store   *store.Store
	metrics *observe.Metrics
	queue   chan job

	settings atomic.Pointer[settings]

	mu      sync.RWMutex
	results map[string]*Result

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewWorker returns a worker. Call [Worker.Start] to begin processing.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Store == nil || cfg.Estimator == nil {
		return nil, errors.New("analysis: store and estimator are required")
	}
	if err := cfg.Spectrogram.Validate(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	w := &Worker{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		queue:   make(chan job, cfg.QueueSize),
		results: make(map[string]*Result),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.settings.Store(&settings{estimator: cfg.Estimator, spectrogram: cfg.Spectrogram})
	return w, nil
}

// Reconfigure swaps the estimator and spectrogram settings. Jobs already
// running finish with the old settings.
func (w *Worker) Reconfigure(est *oto.Estimator, spec dsp.SpectrogramConfig) error {
	if est == nil {
		return errors.New("analysis: estimator is required")
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	w.settings.Store(&settings{estimator: est, spectrogram: spec})
	return nil
}

// Submit registers take with the store, which drops any markers of a
// previous take of the same alias, and queues it for analysis.
func (w *Worker) Submit(ctx context.Context, take *recording.Take, wavPath string) (uint64, error) {
	select {
	case <-w.done:
		return 0, ErrStopped
	default:
	}
	gen, err := w.store.Invalidate(ctx, take, wavPath)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	delete(w.results, take.Alias())
	w.mu.Unlock()

	select {
	case w.queue <- job{take: take, generation: gen}:
		return gen, nil
	default:
		_ = w.store.Fail(ctx, take.Alias(), gen, ErrQueueFull)
		return gen, ErrQueueFull
	}
}

// Start runs the worker loop in a background goroutine until ctx ends or
// [Worker.Stop] is called.
func (w *Worker) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.loop(ctx)
	}
}

// Stop halts the worker and waits for the job in progress. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case j := <-w.queue:
			if err := w.process(ctx, j); err != nil {
				slog.Warn("take analysis failed", "alias", j.take.Alias(), "err", err)
			}
		}
	}
}

// Result returns the latest analysis of alias.
func (w *Worker) Result(alias string) (*Result, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.results[alias]
	return r, ok
}

// Analyze runs the analysis of one take synchronously without touching
// the store.
func (w *Worker) Analyze(ctx context.Context, take *recording.Take) (*Result, error) {
	st := w.settings.Load()
	mono := take.Mono()

	var (
		res = &Result{Alias: take.Alias()}
		est oto.Estimate
	)
	eg, egCtx := errgroup.WithContext(ctx)

	// ── goroutine 1: spectrogram and envelope ────────────────────────────────
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		g, env, err := dsp.Spectrogram(mono, st.spectrogram)
		if err != nil {
			return fmt.Errorf("analysis: spectrogram for %q: %w", take.Alias(), err)
		}
		res.Grid, res.Envelope = g, env
		return nil
	})

	// ── goroutine 2: marker estimate ─────────────────────────────────────────
	eg.Go(func() error {
		start := time.Now()
		var err error
		est, err = st.estimator.Estimate(oto.Input{Samples: mono, Grid: take.Grid})
		w.metrics.EstimationDuration.Record(egCtx, time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("analysis: estimate for %q: %w", take.Alias(), err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	res.Estimate = est
	return res, nil
}

func (w *Worker) process(ctx context.Context, j job) error {
	alias := j.take.Alias()
	ctx, span := observe.StartTakeSpan(ctx, "analysis.take", alias)
	defer span.End()
	span.SetAttributes(attribute.Int64("vocalparam.generation", int64(j.generation)))

	start := time.Now()
	res, err := w.Analyze(ctx, j.take)
	w.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := w.store.Fail(ctx, alias, j.generation, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	res.Generation = j.generation

	if res.Estimate.Fallback {
		w.metrics.EstimationFallbacks.Add(ctx, 1)
		observe.Logger(ctx).Warn("no onset found, using start of search range", "alias", alias)
	}
	ok, err := w.store.Put(ctx, alias, j.generation, res.Estimate)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	w.mu.Lock()
	w.results[alias] = res
	w.mu.Unlock()
	observe.Logger(ctx).Info("take analysed",
		"alias", alias,
		"offset", res.Estimate.Entry.Offset,
		"fallback", res.Estimate.Fallback,
		"duration", time.Since(start),
	)
	return nil
}
