// Package device owns the one persistent duplex audio stream of the process.
//
// The stream is opened once at startup and survives across takes. Work is
// handed to the real-time callback by attaching a [Processor]; with nothing
// attached the callback renders silence. The processor pointer is published
// atomically so the callback never takes the device mutex.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/resilience"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

var (
	// ErrSessionActive is returned by [Stream.Switch] and [Stream.Attach]
	// while a processor is attached.
	ErrSessionActive = errors.New("device: a session is attached")

	// ErrNotOpen is returned when an operation needs an open stream.
	ErrNotOpen = errors.New("device: stream is not open")
)

// levelGain scales block RMS into the level meter range.
const levelGain = 5.0

// Processor consumes one block of input and fills one block of output. It
// runs on the real-time audio thread: it must not block, allocate, or log.
// out arrives zeroed.
type Processor interface {
	Process(out, in []int16)
}

// ProcessorFunc adapts a function to [Processor].
type ProcessorFunc func(out, in []int16)

// Process implements [Processor].
func (f ProcessorFunc) Process(out, in []int16) { f(out, in) }

// Config configures a [Stream].
type Config struct {
	Backend audio.Backend
	Stream  audio.StreamConfig

	// RetryDelay is waited before the single retry on a busy device and
	// between close and reopen on a switch. Default: 100ms.
	RetryDelay time.Duration

	// Metrics receives device error counts. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

type holder struct{ p Processor }

// Stream is the process-wide duplex stream.
type Stream struct {
	backend    audio.Backend
	retryDelay time.Duration
	metrics    *observe.Metrics
	breaker    *resilience.CircuitBreaker
	inChannels int

	mu     sync.Mutex
	cfg    audio.StreamConfig
	stream audio.Stream

	active atomic.Pointer[holder]
	frames atomic.Int64
	level  atomic.Uint64
}

// New creates a closed Stream. Call [Stream.Open] to acquire the device.
func New(cfg Config) *Stream {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Stream{
		backend:    cfg.Backend,
		retryDelay: cfg.RetryDelay,
		metrics:    cfg.Metrics,
		cfg:        cfg.Stream,
		inChannels: cfg.Stream.Format.InputChannels,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "audio-device",
			MaxFailures:  3,
			ResetTimeout: 5 * time.Second,
			// Invalid configurations are the caller's fault, not the device's.
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, audio.ErrDeviceInvalid)
			},
		}),
	}
}

// process is the real-time callback.
func (s *Stream) process(out, in []int16) {
	lvl := math.Min(audio.RMS(in)*levelGain, 1)
	s.level.Store(math.Float64bits(lvl))

	clear(out)
	if h := s.active.Load(); h != nil {
		h.p.Process(out, in)
	}

	if s.inChannels > 0 {
		s.frames.Add(int64(len(in) / s.inChannels))
	}
}

// Open acquires the configured devices and starts the stream. Opening an
// already open stream is a no-op.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx)
}

func (s *Stream) openLocked(ctx context.Context) error {
	if s.stream != nil {
		return nil
	}
	if err := s.cfg.Format.Validate(); err != nil {
		return audio.NewDeviceError(audio.DeviceInvalid, "open", s.cfg.InputDevice, err)
	}

	var st audio.Stream
	err := s.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{
			Name:      "audio-device",
			Retries:   1,
			Delay:     s.retryDelay,
			Retryable: func(err error) bool { return errors.Is(err, audio.ErrDeviceBusy) },
		}, func() error {
			var err error
			st, err = s.acquire(ctx)
			return err
		})
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = audio.NewDeviceError(audio.DeviceUnavailable, "open", s.cfg.InputDevice, err)
		}
		var de *audio.DeviceError
		if !errors.As(err, &de) {
			err = audio.NewDeviceError(audio.DeviceInvalid, "open", s.cfg.InputDevice, err)
		}
		kind, _ := audio.DeviceErrorKindOf(err)
		s.metrics.RecordDeviceError(ctx, kind.String())
		slog.Error("failed to open audio device",
			"input", s.cfg.InputDevice,
			"output", s.cfg.OutputDevice,
			"kind", kind.String(),
			"err", err,
		)
		return err
	}

	s.stream = st
	slog.Info("audio stream open",
		"backend", s.backend.Name(),
		"input", s.cfg.InputDevice,
		"output", s.cfg.OutputDevice,
		"format", s.cfg.Format.String(),
	)
	return nil
}

// acquire opens and starts one stream. A stream that fails to start is
// closed again before returning.
func (s *Stream) acquire(ctx context.Context) (audio.Stream, error) {
	st, err := s.backend.OpenStream(ctx, s.cfg, s.process)
	if err != nil {
		return nil, err
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Close stops and releases the device. Any attached processor is detached.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active.Store(nil)
	return s.closeLocked()
}

func (s *Stream) closeLocked() error {
	if s.stream == nil {
		return nil
	}
	st := s.stream
	s.stream = nil
	err := errors.Join(st.Stop(), st.Close())
	if err != nil {
		return fmt.Errorf("device: close: %w", err)
	}
	return nil
}

// Switch releases the current devices and opens the given ones, waiting
// the hardware release delay in between. It is refused while a processor
// is attached. An explicit switch clears any open circuit breaker.
func (s *Stream) Switch(ctx context.Context, input, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() != nil {
		return ErrSessionActive
	}
	wasOpen := s.stream != nil
	if err := s.closeLocked(); err != nil {
		slog.Warn("error releasing audio device before switch", "err", err)
	}
	if wasOpen {
		t := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	s.cfg.InputDevice = input
	s.cfg.OutputDevice = output
	s.breaker.Reset()
	return s.openLocked(ctx)
}

// Attach installs p as the active processor. Only one processor can be
// attached at a time.
func (s *Stream) Attach(p Processor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ErrNotOpen
	}
	if !s.active.CompareAndSwap(nil, &holder{p: p}) {
		return ErrSessionActive
	}
	return nil
}

// Detach removes p if it is the active processor. After Detach returns the
// callback no longer calls p for any block that starts later.
func (s *Stream) Detach(p Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.active.Load(); h != nil && h.p == p {
		s.active.Store(nil)
	}
}

// Attached reports whether a processor is attached.
func (s *Stream) Attached() bool {
	return s.active.Load() != nil
}

// Level returns the most recent input level in [0,1].
func (s *Stream) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Frames returns the number of frames processed since the stream was
// created. It only grows.
func (s *Stream) Frames() int64 {
	return s.frames.Load()
}

// IsOpen reports whether the device is acquired.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Config returns the current stream configuration.
func (s *Stream) Config() audio.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Format returns the current stream format.
func (s *Stream) Format() audio.Format {
	return s.Config().Format
}

// Devices lists the backend's devices.
func (s *Stream) Devices(ctx context.Context) ([]audio.DeviceInfo, error) {
	devs, err := s.backend.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("device: list devices: %w", err)
	}
	return devs, nil
}

// BackendName returns the name of the underlying backend.
func (s *Stream) BackendName() string {
	return s.backend.Name()
}
