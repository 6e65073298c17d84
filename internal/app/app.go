// Package app wires all VocalParam subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the settings database
// and the audio device and connects the store, analysis worker, session
// manager and editor API; Run serves HTTP and processes takes; Shutdown
// tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithMetrics, etc.) and pass a mock audio backend to New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/config"
	"github.com/MrWong99/vocalparam/internal/device"
	"github.com/MrWong99/vocalparam/internal/dsp"
	"github.com/MrWong99/vocalparam/internal/editor"
	"github.com/MrWong99/vocalparam/internal/health"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/settings"
	"github.com/MrWong99/vocalparam/internal/store"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

// serverShutdownTimeout bounds the HTTP drain when Run's context ends.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	backend audio.Backend

	// Subsystems, initialised in New and torn down in Shutdown.
	settings *settings.Store
	device   *device.Stream
	store    *store.Store
	worker   *analysis.Worker
	sessions *SessionManager
	editor   *editor.Server
	health   *health.Handler
	handler  http.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsStore injects an open settings store instead of opening the
// configured path. The caller keeps ownership and closes it.
func WithSettingsStore(s *settings.Store) Option {
	return func(a *App) { a.settings = s }
}

// WithMetrics injects the metric instruments. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the running
// logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. backend comes from
// main.go (built via the config registry).
//
// A device that cannot be opened at startup is not fatal: the app starts
// with readiness failing so the device can be switched through the API.
func New(ctx context.Context, cfg *config.Config, backend audio.Backend, opts ...Option) (*App, error) {
	if backend == nil {
		return nil, errors.New("app: audio backend is required")
	}
	a := &App{
		cfg:     cfg,
		backend: backend,
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings database ─────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. Audio device ──────────────────────────────────────────────────
	a.initDevice(ctx)

	// ── 3. Parameter store ───────────────────────────────────────────────
	policy, err := cfg.Editor.Policy()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.store = store.New(store.WithPolicy(policy), store.WithMetrics(a.metrics))

	// ── 4. Analysis worker ───────────────────────────────────────────────
	if err := a.initWorker(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}

	// ── 5. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Device:    a.device,
		Worker:    a.worker,
		Store:     a.store,
		Metrics:   a.metrics,
		Metronome: cfg.Metronome,
		Recording: cfg.Recording,
	})
	a.closers = append(a.closers, a.sessions.Close)

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.editor = editor.New(editor.Config{
		Store:    a.store,
		Takes:    a.sessions,
		Device:   &persistentDevice{Stream: a.device, settings: a.settings},
		Analyzer: a.worker,
	})
	a.health = health.New(
		health.StateCheck("device", a.device.IsOpen, "audio stream is not open"),
		health.PingCheck("settings", a.settings),
	)

	mux := http.NewServeMux()
	a.editor.Register(mux)
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSettings opens the settings database unless one was injected.
func (a *App) initSettings(ctx context.Context) error {
	if a.settings != nil {
		return nil
	}
	s, err := settings.Open(ctx, a.cfg.Settings.Path)
	if err != nil {
		return err
	}
	a.settings = s
	a.closers = append(a.closers, s.Close)
	return nil
}

// initDevice builds the device stream from the config and the last saved
// device selection, then tries to open it. The saved selection is only
// used while the configured format still matches it.
func (a *App) initDevice(ctx context.Context) {
	sc := a.cfg.Audio.StreamConfig()

	saved, ok, err := a.settings.Load(ctx)
	switch {
	case err != nil:
		slog.Warn("could not read saved device selection", "err", err)
	case ok && saved.Format == sc.Format:
		sc.InputDevice, sc.OutputDevice = saved.InputDevice, saved.OutputDevice
		slog.Info("restored device selection",
			"input", saved.InputDevice,
			"output", saved.OutputDevice,
			"saved_at", saved.UpdatedAt,
		)
	case ok:
		slog.Info("ignoring saved device selection, format changed",
			"saved", saved.Format.String(),
			"configured", sc.Format.String(),
		)
	}

	a.device = device.New(device.Config{
		Backend:    a.backend,
		Stream:     sc,
		RetryDelay: a.cfg.Audio.RetryDelay,
		Metrics:    a.metrics,
	})
	if err := a.device.Open(ctx); err != nil {
		slog.Warn("audio device unavailable at startup, switch devices to retry", "err", err)
	}
	a.closers = append(a.closers, a.device.Close)
}

// initWorker builds the estimator and the analysis worker.
func (a *App) initWorker() error {
	est, err := newEstimator(a.cfg)
	if err != nil {
		return err
	}
	w, err := analysis.NewWorker(analysis.Config{
		Store:       a.store,
		Estimator:   est,
		Spectrogram: a.cfg.Spectrogram,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.worker = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// newEstimator builds the onset detector and estimator from cfg.
func newEstimator(cfg *config.Config) (*oto.Estimator, error) {
	det, err := dsp.NewTransientDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}
	return oto.NewEstimator(cfg.Estimator, det)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the analysis worker and the HTTP server and blocks until ctx
// is cancelled or the server fails. On cancellation Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	a.worker.Start(ctx)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"backend", a.device.BackendName(),
		"device_open", a.device.IsOpen(),
	)

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Addr blocks until Run is listening and returns the bound address, or
// returns nil once ctx ends.
func (a *App) Addr(ctx context.Context) net.Addr {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return nil
	}
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Handler returns the full HTTP handler: editor API, health probes and,
// when configured, metrics.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable differences between old and new:
// log level, estimator and analysis tunables, metronome, and validation
// policy. Changes that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) error {
	d := config.Diff(old, new)
	if d.Empty() {
		return nil
	}

	var errs []error
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AnalysisChanged {
		est, err := newEstimator(new)
		if err == nil {
			err = a.worker.Reconfigure(est, new.Spectrogram)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("app: reload analysis: %w", err))
		} else {
			slog.Info("analysis settings reloaded")
		}
	}
	if d.MetronomeChanged {
		a.sessions.SetMetronome(new.Metronome)
		slog.Info("metronome reloaded", "bpm", new.Metronome.BPM)
	}
	if d.PolicyChanged {
		p, err := new.Editor.Policy()
		if err != nil {
			errs = append(errs, fmt.Errorf("app: reload policy: %w", err))
		} else {
			a.store.SetPolicy(p)
			slog.Info("validation policy changed", "policy", p.String())
		}
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", field)
	}
	return errors.Join(errs...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// ─── Device persistence ──────────────────────────────────────────────────────

// persistentDevice saves every successful device switch so the selection
// survives a restart.
type persistentDevice struct {
	*device.Stream
	settings *settings.Store
}

// Switch switches devices and saves the new selection. A failed save is
// logged; the switch itself stands.
func (d *persistentDevice) Switch(ctx context.Context, input, output string) error {
	if err := d.Stream.Switch(ctx, input, output); err != nil {
		return err
	}
	cfg := d.Stream.Config()
	if err := d.settings.Save(ctx, settings.AudioConfig{
		InputDevice:  cfg.InputDevice,
		OutputDevice: cfg.OutputDevice,
		Format:       cfg.Format,
	}); err != nil {
		slog.Warn("could not save device selection", "err", err)
	}
	return nil
}
