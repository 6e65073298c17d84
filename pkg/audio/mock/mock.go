// Package mock provides an in-memory implementation of [audio.Backend] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Blocks never flow on their own: tests drive the callback synchronously with
// [Stream.Pump], which makes sample-accurate assertions deterministic.
//
// Typical usage:
//
//	backend := &mock.Backend{}
//	st, _ := backend.OpenStream(ctx, cfg, cb)
//	_ = st.Start()
//	out := backend.LastStream().Pump(inputBlock)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// ErrNotRunning is returned by [Stream.Pump] when the stream is not started.
var ErrNotRunning = errors.New("mock: stream not running")

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
// Set the exported error fields before use; inspect the CallCount* fields after.
type Stream struct {
	mu sync.Mutex

	cfg     audio.StreamConfig
	cb      audio.Callback
	running bool
	closed  bool
	out     []int16
	silence []int16

	// StartError is returned by [Stream.Start].
	StartError error

	// StopError is returned by [Stream.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// BlocksPumped counts callback invocations made through Pump.
	BlocksPumped int
}

// Config returns the configuration the stream was opened with.
func (s *Stream) Config() audio.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start implements [audio.Stream]. Returns StartError.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.running = true
	return nil
}

// Stop implements [audio.Stream]. Returns StopError.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.running = false
	return s.StopError
}

// Close implements [audio.Stream]. It is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.running = false
	s.closed = true
	return nil
}

// Running reports whether the stream is started and not closed.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.closed
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pump delivers one block to the callback, exactly as a driver would, and
// returns a copy of the output block. in must hold BlockSize*InputChannels
// samples; nil delivers silence.
func (s *Stream) Pump(in []int16) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.closed {
		return nil, ErrNotRunning
	}
	if in == nil {
		in = s.silence
	}
	clear(s.out)
	s.cb(s.out, in)
	s.BlocksPumped++
	out := make([]int16, len(s.out))
	copy(out, s.out)
	return out, nil
}

// PumpSignal splits signal into consecutive input blocks and pumps each of
// them, returning the concatenated output. A trailing partial block is
// zero-padded.
func (s *Stream) PumpSignal(signal []int16) ([]int16, error) {
	f := s.Config().Format
	blockLen := f.BlockSize * f.InputChannels
	var out []int16
	for start := 0; start < len(signal); start += blockLen {
		block := make([]int16, blockLen)
		copy(block, signal[start:min(start+blockLen, len(signal))])
		o, err := s.Pump(block)
		if err != nil {
			return out, err
		}
		out = append(out, o...)
	}
	return out, nil
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// NameResult is returned by [Backend.Name]. Defaults to "mock".
	NameResult string

	// DevicesResult is returned by [Backend.Devices].
	DevicesResult []audio.DeviceInfo

	// DevicesError is returned by [Backend.Devices].
	DevicesError error

	// OpenErrors is consumed front to back, one entry per OpenStream call.
	// Once exhausted, OpenStream succeeds.
	OpenErrors []error

	// OpenCalls records the configuration of every OpenStream invocation.
	OpenCalls []audio.StreamConfig

	streams []*Stream
}

// Name implements [audio.Backend].
func (b *Backend) Name() string {
	if b.NameResult == "" {
		return "mock"
	}
	return b.NameResult
}

// Devices implements [audio.Backend]. Returns DevicesResult / DevicesError.
func (b *Backend) Devices(_ context.Context) ([]audio.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.DevicesResult, b.DevicesError
}

// OpenStream implements [audio.Backend]. Records the call and returns the
// next queued error from OpenErrors, or a new [Stream].
func (b *Backend) OpenStream(_ context.Context, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, cfg)
	if len(b.OpenErrors) > 0 {
		err := b.OpenErrors[0]
		b.OpenErrors = b.OpenErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	f := cfg.Format
	s := &Stream{
		cfg:     cfg,
		cb:      cb,
		out:     make([]int16, f.BlockSize*f.OutputChannels),
		silence: make([]int16, f.BlockSize*f.InputChannels),
	}
	b.streams = append(b.streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (b *Backend) LastStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// Streams returns every stream opened so far, oldest first.
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Stream, len(b.streams))
	copy(out, b.streams)
	return out
}

// CallCountOpen returns how many times OpenStream was called.
func (b *Backend) CallCountOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.OpenCalls)
}

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Stream  = (*Stream)(nil)
)
