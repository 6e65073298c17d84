// Command vocalparam runs the VocalParam recording and oto editing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/vocalparam/internal/app"
	"github.com/MrWong99/vocalparam/internal/config"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/pkg/audio"
	"github.com/MrWong99/vocalparam/pkg/audio/malgo"
	"github.com/MrWong99/vocalparam/pkg/audio/virtual"
	"github.com/MrWong99/vocalparam/pkg/audio/wav"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "vocalparam.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocalparam: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("vocalparam starting",
		"version", version,
		"config", *configPath,
		"config_file", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	// Instruments bind to the provider installed above.
	metrics := observe.DefaultMetrics()

	// ── Audio backend ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, err := reg.CreateBackend(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio backend", "err", err, "registered", reg.Names())
		return 1
	}
	if c, ok := backend.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.Warn("audio backend close error", "err", err)
			}
		}()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, backend)

	application, err := app.New(ctx, cfg, backend,
		app.WithLogLevel(&level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile && *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if err := application.ApplyConfig(old, new); err != nil {
				slog.Error("config reload failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file falls back to the built-in defaults;
// fromFile reports which of the two happened.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "vocalparam: config file %q not found, using defaults\n", path)
		return config.Default(), false, nil
	default:
		return nil, false, err
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the audio backends that ship with VocalParam
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend("malgo", func(config.AudioConfig) (audio.Backend, error) {
		return malgo.New(), nil
	})

	reg.RegisterBackend("virtual", func(cfg config.AudioConfig) (audio.Backend, error) {
		if cfg.VirtualSource == "" {
			return virtual.New(), nil
		}
		samples, rate, err := loadSource(cfg.VirtualSource)
		if err != nil {
			return nil, err
		}
		return virtual.New(virtual.WithSource(samples, rate), virtual.WithLoop(true)), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered audio backend", "name", name)
	}
}

// loadSource decodes a WAV file and keeps its first channel.
func loadSource(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open virtual source: %w", err)
	}
	defer f.Close()

	samples, info, err := wav.Decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decode virtual source %q: %w", path, err)
	}
	if info.Channels > 1 {
		mono := make([]int16, 0, len(samples)/info.Channels)
		for i := 0; i < len(samples); i += info.Channels {
			mono = append(mono, samples[i])
		}
		samples = mono
	}
	return samples, info.SampleRate, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, backend audio.Backend) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       VocalParam — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", backend.Name())
	printRow("Input", deviceName(cfg.Audio.InputDevice))
	printRow("Output", deviceName(cfg.Audio.OutputDevice))
	printRow("Format", cfg.Audio.Format().String())
	printRow("Tempo", fmt.Sprintf("%g bpm", cfg.Metronome.BPM))
	printRow("Validation", cfg.Editor.ValidationPolicy)
	printRow("Takes dir", cfg.Recording.OutputDir)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func deviceName(name string) string {
	if name == "" {
		return "(system default)"
	}
	return name
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
