// Package malgo implements [audio.Backend] on top of miniaudio through the
// github.com/gen2brain/malgo bindings.
//
// Streams are opened as a single duplex device so capture and playback share
// one clock and one callback: the block handed to the callback pairs the
// input captured and the output rendered for the same period.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// Backend is a miniaudio-backed [audio.Backend]. The miniaudio context is
// initialised lazily and released by [Backend.Close].
type Backend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New returns a backend. No driver resources are acquired until the first
// call to Devices or OpenStream.
func New() *Backend {
	return &Backend{}
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return "malgo" }

// context returns the shared miniaudio context, initialising it on first use.
func (b *Backend) context() (*malgo.AllocatedContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return b.ctx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, audio.NewDeviceError(audio.DeviceUnavailable, "init context", "", err)
	}
	b.ctx = ctx
	return ctx, nil
}

// Close releases the miniaudio context. Streams opened from b must be closed
// first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// Devices implements [audio.Backend].
func (b *Backend) Devices(_ context.Context) ([]audio.DeviceInfo, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}
	var out []audio.DeviceInfo
	for _, kind := range []audio.DeviceKind{audio.DeviceCapture, audio.DevicePlayback} {
		infos, err := ctx.Devices(deviceType(kind))
		if err != nil {
			return nil, classify("list devices", "", err)
		}
		for _, info := range infos {
			out = append(out, audio.DeviceInfo{
				Name:    info.Name(),
				Kind:    kind,
				Default: info.IsDefault != 0,
			})
		}
	}
	return out, nil
}

// OpenStream implements [audio.Backend]. Devices are resolved by name; an
// empty name selects the driver default.
func (b *Backend) OpenStream(_ context.Context, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, audio.NewDeviceError(audio.DeviceInvalid, "open", cfg.InputDevice, err)
	}
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}

	f := cfg.Format
	dc := malgo.DefaultDeviceConfig(malgo.Duplex)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(f.InputChannels)
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = uint32(f.OutputChannels)
	dc.SampleRate = uint32(f.SampleRate)
	dc.PeriodSizeInFrames = uint32(f.BlockSize)
	dc.Alsa.NoMMap = 1

	if cfg.InputDevice != "" {
		id, err := findDevice(ctx, audio.DeviceCapture, cfg.InputDevice)
		if err != nil {
			return nil, err
		}
		dc.Capture.DeviceID = id.Pointer()
	}
	if cfg.OutputDevice != "" {
		id, err := findDevice(ctx, audio.DevicePlayback, cfg.OutputDevice)
		if err != nil {
			return nil, err
		}
		dc.Playback.DeviceID = id.Pointer()
	}

	s := &stream{format: f, cb: cb, device: cfg.InputDevice}
	dev, err := malgo.InitDevice(ctx.Context, dc, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, classify("open", cfg.InputDevice, err)
	}
	s.dev = dev
	return s, nil
}

// findDevice resolves a device name to its driver ID.
func findDevice(ctx *malgo.AllocatedContext, kind audio.DeviceKind, name string) (malgo.DeviceID, error) {
	infos, err := ctx.Devices(deviceType(kind))
	if err != nil {
		return malgo.DeviceID{}, classify("list devices", name, err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, audio.NewDeviceError(audio.DeviceUnavailable, "open", name,
		fmt.Errorf("no %s device named %q", kind, name))
}

func deviceType(kind audio.DeviceKind) malgo.DeviceType {
	if kind == audio.DevicePlayback {
		return malgo.Playback
	}
	return malgo.Capture
}

// classify maps a miniaudio error onto a [audio.DeviceErrorKind]. miniaudio
// reports results as text, so the classification is by message.
func classify(op, device string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return audio.NewDeviceError(audio.DeviceBusy, op, device, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "no backend"):
		return audio.NewDeviceError(audio.DeviceUnavailable, op, device, err)
	default:
		return audio.NewDeviceError(audio.DeviceInvalid, op, device, err)
	}
}

// stream wraps one duplex malgo device.
type stream struct {
	format audio.Format
	cb     audio.Callback
	device string

	mu     sync.Mutex
	dev    *malgo.Device
	closed bool
}

// onData adapts miniaudio's byte buffers to int16 views without copying.
func (s *stream) onData(output, input []byte, frames uint32) {
	out := int16View(output, int(frames)*s.format.OutputChannels)
	in := int16View(input, int(frames)*s.format.InputChannels)
	if len(out) == 0 {
		return
	}
	s.cb(out, in)
}

// int16View reinterprets the first n int16 samples of b in place.
func int16View(b []byte, n int) []int16 {
	if len(b) < 2 || n <= 0 {
		return nil
	}
	n = min(n, len(b)/2)
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), n)
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.NewDeviceError(audio.DeviceInvalid, "start", s.device, errors.New("stream closed"))
	}
	if err := s.dev.Start(); err != nil {
		return classify("start", s.device, err)
	}
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return classify("stop", s.device, err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Uninit()
	return nil
}

var _ audio.Backend = (*Backend)(nil)
