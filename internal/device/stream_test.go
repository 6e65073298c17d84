package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vocalparam/internal/device"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/pkg/audio"
	"github.com/MrWong99/vocalparam/pkg/audio/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testFormat() audio.Format {
	return audio.Format{SampleRate: 44100, InputChannels: 1, OutputChannels: 2, BlockSize: 4}
}

func newStream(t *testing.T, b *mock.Backend) *device.Stream {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return device.New(device.Config{
		Backend:    b,
		Stream:     audio.StreamConfig{InputDevice: "mic", OutputDevice: "phones", Format: testFormat()},
		RetryDelay: time.Millisecond,
		Metrics:    m,
	})
}

func busy() error {
	return audio.NewDeviceError(audio.DeviceBusy, "open", "mic", errors.New("in use"))
}

func TestOpen_StartsStream(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.IsOpen() {
		t.Fatal("IsOpen = false after Open")
	}
	st := b.LastStream()
	if st == nil || !st.Running() {
		t.Fatal("backend stream not running")
	}

	// A second Open keeps the same stream.
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if got := b.CallCountOpen(); got != 1 {
		t.Errorf("OpenStream calls = %d, want 1", got)
	}
}

func TestOpen_RetriesBusyOnce(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{OpenErrors: []error{busy()}}
	s := newStream(t, b)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := b.CallCountOpen(); got != 2 {
		t.Errorf("OpenStream calls = %d, want 2", got)
	}
}

func TestOpen_BusyTwiceSurfaces(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{OpenErrors: []error{busy(), busy()}}
	s := newStream(t, b)

	err := s.Open(context.Background())
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("Open error = %v, want busy", err)
	}
	if got := b.CallCountOpen(); got != 2 {
		t.Errorf("OpenStream calls = %d, want 2 (one retry)", got)
	}
	if s.IsOpen() {
		t.Error("stream open after failure")
	}
}

func TestOpen_UnavailableNotRetried(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{OpenErrors: []error{
		audio.NewDeviceError(audio.DeviceUnavailable, "open", "mic", nil),
	}}
	s := newStream(t, b)

	err := s.Open(context.Background())
	kind, ok := audio.DeviceErrorKindOf(err)
	if !ok || kind != audio.DeviceUnavailable {
		t.Fatalf("Open error = %v, want unavailable", err)
	}
	if got := b.CallCountOpen(); got != 1 {
		t.Errorf("OpenStream calls = %d, want 1", got)
	}
}

func TestOpen_PlainErrorBecomesInvalid(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{OpenErrors: []error{errors.New("format not supported")}}
	s := newStream(t, b)

	if err := s.Open(context.Background()); !errors.Is(err, audio.ErrDeviceInvalid) {
		t.Fatalf("Open error = %v, want invalid", err)
	}
}

func TestOpen_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	unavailable := audio.NewDeviceError(audio.DeviceUnavailable, "open", "mic", nil)
	b := &mock.Backend{OpenErrors: []error{unavailable, unavailable, unavailable}}
	s := newStream(t, b)

	for range 3 {
		_ = s.Open(context.Background())
	}
	err := s.Open(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Open error = %v, want unavailable", err)
	}
	if got := b.CallCountOpen(); got != 3 {
		t.Errorf("OpenStream calls = %d, want 3 (fourth short-circuited)", got)
	}

	// An explicit switch clears the breaker.
	if err := s.Switch(context.Background(), "mic2", "phones"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if !s.IsOpen() {
		t.Error("stream not open after switch")
	}
}

func TestCallback_SilenceWithoutProcessor(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	out, err := b.LastStream().Pump([]int16{1000, 1000, 1000, 1000})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %d, want silence", i, v)
		}
	}
	if got := s.Frames(); got != 4 {
		t.Errorf("Frames = %d, want 4", got)
	}
	if s.Level() <= 0 {
		t.Error("Level = 0 for non-silent input")
	}
}

func TestAttachDetach(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)

	p := device.ProcessorFunc(func(out, in []int16) {
		for i := range out {
			out[i] = 7
		}
	})
	if err := s.Attach(p); !errors.Is(err, device.ErrNotOpen) {
		t.Fatalf("Attach before Open = %v, want ErrNotOpen", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(p); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Attach(device.ProcessorFunc(func(_, _ []int16) {})); !errors.Is(err, device.ErrSessionActive) {
		t.Fatalf("second Attach = %v, want ErrSessionActive", err)
	}

	out, _ := b.LastStream().Pump(nil)
	if out[0] != 7 {
		t.Errorf("out[0] = %d, want 7 from processor", out[0])
	}

	s.Detach(p)
	out, _ = b.LastStream().Pump(nil)
	if out[0] != 0 {
		t.Errorf("out[0] = %d after Detach, want 0", out[0])
	}
}

func TestSwitch_RefusedWhileAttached(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	p := device.ProcessorFunc(func(_, _ []int16) {})
	if err := s.Attach(p); err != nil {
		t.Fatal(err)
	}

	if err := s.Switch(context.Background(), "other", "other"); !errors.Is(err, device.ErrSessionActive) {
		t.Fatalf("Switch = %v, want ErrSessionActive", err)
	}
	if got := b.CallCountOpen(); got != 1 {
		t.Errorf("OpenStream calls = %d, want 1", got)
	}
}

func TestSwitch_ReopensWithNewDevices(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := b.LastStream()

	if err := s.Switch(context.Background(), "usb-mic", "usb-out"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if !first.Closed() {
		t.Error("old stream not closed")
	}
	cfg := b.LastStream().Config()
	if cfg.InputDevice != "usb-mic" || cfg.OutputDevice != "usb-out" {
		t.Errorf("reopened with %q/%q", cfg.InputDevice, cfg.OutputDevice)
	}
	if got := s.Config().InputDevice; got != "usb-mic" {
		t.Errorf("Config().InputDevice = %q", got)
	}
}

func TestClose_ReleasesAndDetaches(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{}
	s := newStream(t, b)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(device.ProcessorFunc(func(_, _ []int16) {})); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.IsOpen() || s.Attached() {
		t.Error("stream still open or attached after Close")
	}
	if !b.LastStream().Closed() {
		t.Error("backend stream not closed")
	}
}

func TestDevices(t *testing.T) {
	t.Parallel()
	want := []audio.DeviceInfo{{Name: "mic", Kind: audio.DeviceCapture, Default: true}}
	s := newStream(t, &mock.Backend{DevicesResult: want})

	got, err := s.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "mic" {
		t.Errorf("Devices = %+v", got)
	}
}
