package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 2 * time.Second

// fileState identifies one version of the config file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every valid edit to a callback.
// An edit that fails to parse or validate is reported once and the previous
// config stays current until the file changes again. Use [Diff] inside the
// callback to find out which changes can be applied live.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	mu       sync.Mutex
	current  *Config
	applied  fileState
	rejected fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler receives rejected edits. Default: a warning log line.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path and starts polling it in a background goroutine.
// The initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.onError == nil {
		w.onError = func(err error) {
			slog.Warn("config edit rejected, keeping previous config", "path", path, "err", err)
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.applied = st

	go w.loop()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Debug("config file not readable", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.applied.mtime) || info.ModTime().Equal(w.rejected.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, st, err := w.read()

	w.mu.Lock()
	switch {
	case err != nil:
		repeat := st != (fileState{}) && st.hash == w.rejected.hash
		w.rejected = st
		w.mu.Unlock()
		if !repeat {
			w.onError(err)
		}
		return
	case st.hash == w.applied.hash:
		// Touched, or reverted to the applied content.
		w.applied.mtime = st.mtime
		w.rejected = fileState{}
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.applied = st
	w.rejected = fileState{}
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and validates the file. The returned state is filled whenever
// the file could be read, even when the content is invalid.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
