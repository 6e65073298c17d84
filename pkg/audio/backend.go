// Package audio defines the duplex stream abstraction used by VocalParam and
// the helpers shared by its backends.
//
// The two primary abstractions are:
//
//   - [Backend] enumerates devices and opens a [Stream].
//   - [Stream] is one persistent input+output stream that delivers fixed-size
//     blocks to a [Callback] on the driver's real-time thread.
//
// Implementations live in sub-packages (audio/malgo for hardware,
// audio/virtual for a software clock, audio/mock for tests).
package audio

import "context"

// Callback processes one block of audio. in holds BlockSize*InputChannels
// captured samples; out holds BlockSize*OutputChannels samples and must be
// fully written by the callback. Both slices are interleaved int16 PCM and
// are only valid for the duration of the call.
//
// Callbacks run on the driver's real-time thread: they must not allocate,
// block on long-held locks, or perform I/O.
type Callback func(out, in []int16)

// DeviceKind classifies a device by direction.
type DeviceKind int

const (
	// DeviceCapture is an input (microphone) device.
	DeviceCapture DeviceKind = iota

	// DevicePlayback is an output (speaker/headphone) device.
	DevicePlayback
)

// String returns the human-readable name of the device kind.
func (k DeviceKind) String() string {
	switch k {
	case DeviceCapture:
		return "capture"
	case DevicePlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one device reported by [Backend.Devices].
type DeviceInfo struct {
	// Name is the driver-reported device name. Devices are selected by name.
	Name string `json:"name"`

	// Kind is the device direction.
	Kind DeviceKind `json:"kind"`

	// Default reports whether the driver considers this the system default.
	Default bool `json:"default"`
}

// StreamConfig selects the devices and format for [Backend.OpenStream].
type StreamConfig struct {
	// InputDevice is the capture device name. Empty selects the default.
	InputDevice string

	// OutputDevice is the playback device name. Empty selects the default.
	OutputDevice string

	// Format is the fixed stream format.
	Format Format
}

// Stream is an opened duplex stream. Start and Stop may be called
// repeatedly; Close releases the device and is idempotent.
type Stream interface {
	// Start begins invoking the callback.
	Start() error

	// Stop pauses the callback without releasing the device.
	Stop() error

	// Close stops the stream and releases the underlying device.
	Close() error
}

// Backend opens duplex streams on a particular driver.
//
// Implementations must be safe for concurrent use. Errors describing device
// problems should be returned as [*DeviceError] so callers can distinguish a
// busy device from a missing one.
type Backend interface {
	// Name returns a short identifier such as "malgo" or "virtual".
	Name() string

	// Devices lists the capture and playback devices currently available.
	Devices(ctx context.Context) ([]DeviceInfo, error)

	// OpenStream opens (but does not start) a duplex stream delivering blocks
	// to cb.
	OpenStream(ctx context.Context, cfg StreamConfig, cb Callback) (Stream, error)
}
