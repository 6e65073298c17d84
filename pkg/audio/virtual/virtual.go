// Package virtual provides a software [audio.Backend] driven by a wall-clock
// ticker instead of sound hardware.
//
// The stream delivers one block per block duration. Captured input comes from
// an optional mono source signal (for example a WAV file of a previous take),
// and rendered output can be observed through an optional sink. It is used for
// headless operation and for end-to-end tests of the recording flow.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// Device names reported by [Backend.Devices].
const (
	InputDeviceName  = "virtual-in"
	OutputDeviceName = "virtual-out"
)

// Backend is a ticker-driven [audio.Backend]. It is safe for concurrent use.
type Backend struct {
	mu         sync.Mutex
	source     []int16
	sourceRate int
	loop       bool
	sink       func(out []int16)
}

// Option configures a [Backend].
type Option func(*Backend)

// WithSource sets the mono signal replayed as captured input. The signal is
// resampled to the stream rate when a stream is opened.
func WithSource(samples []int16, sampleRate int) Option {
	return func(b *Backend) {
		b.source = samples
		b.sourceRate = sampleRate
	}
}

// WithLoop makes the source repeat instead of falling silent at its end.
func WithLoop(loop bool) Option {
	return func(b *Backend) { b.loop = loop }
}

// WithSink registers fn to observe every rendered output block. fn runs on
// the stream goroutine and must copy out if it retains it.
func WithSink(fn func(out []int16)) Option {
	return func(b *Backend) { b.sink = fn }
}

// New returns a virtual backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return "virtual" }

// Devices implements [audio.Backend]. The virtual backend has exactly one
// device in each direction.
func (b *Backend) Devices(_ context.Context) ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{
		{Name: InputDeviceName, Kind: audio.DeviceCapture, Default: true},
		{Name: OutputDeviceName, Kind: audio.DevicePlayback, Default: true},
	}, nil
}

// OpenStream implements [audio.Backend].
func (b *Backend) OpenStream(_ context.Context, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	if cfg.InputDevice != "" && cfg.InputDevice != InputDeviceName {
		return nil, audio.NewDeviceError(audio.DeviceUnavailable, "open", cfg.InputDevice, errors.New("no such virtual device"))
	}
	if cfg.OutputDevice != "" && cfg.OutputDevice != OutputDeviceName {
		return nil, audio.NewDeviceError(audio.DeviceUnavailable, "open", cfg.OutputDevice, errors.New("no such virtual device"))
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, audio.NewDeviceError(audio.DeviceInvalid, "open", cfg.InputDevice, err)
	}

	b.mu.Lock()
	src := audio.ResampleMono(b.source, b.sourceRate, cfg.Format.SampleRate)
	loop, sink := b.loop, b.sink
	b.mu.Unlock()

	f := cfg.Format
	return &stream{
		format: f,
		cb:     cb,
		source: src,
		loop:   loop,
		sink:   sink,
		in:     make([]int16, f.BlockSize*f.InputChannels),
		mono:   make([]int16, f.BlockSize),
		out:    make([]int16, f.BlockSize*f.OutputChannels),
	}, nil
}

// stream is the ticker-driven [audio.Stream] returned by [Backend.OpenStream].
type stream struct {
	format audio.Format
	cb     audio.Callback
	source []int16
	loop   bool
	sink   func([]int16)

	// Block buffers, reused for every tick.
	in, mono, out []int16
	pos           int

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.NewDeviceError(audio.DeviceInvalid, "start", InputDeviceName, errors.New("stream closed"))
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *stream) Close() error {
	if err := s.Stop(); err != nil {
		return fmt.Errorf("virtual: close: %w", err)
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// run delivers one block per tick until stop is closed.
func (s *stream) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.format.BlockDuration())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fills the input block from the source and invokes the callback.
func (s *stream) tick() {
	clear(s.mono)
	for i := range s.mono {
		if s.pos >= len(s.source) {
			if !s.loop || len(s.source) == 0 {
				break
			}
			s.pos = 0
		}
		s.mono[i] = s.source[s.pos]
		s.pos++
	}
	if s.format.InputChannels == 2 {
		audio.MonoToStereo(s.in, s.mono)
	} else {
		copy(s.in, s.mono)
	}

	clear(s.out)
	s.cb(s.out, s.in)
	if s.sink != nil {
		s.sink(s.out)
	}
}

var _ audio.Backend = (*Backend)(nil)
