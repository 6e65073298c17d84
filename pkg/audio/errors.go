package audio

import (
	"errors"
	"fmt"
)

// DeviceErrorKind classifies a device failure.
type DeviceErrorKind int

const (
	// DeviceUnavailable means the device is missing or was unplugged.
	DeviceUnavailable DeviceErrorKind = iota

	// DeviceBusy is a transient condition: another client (or a previous
	// stream that has not yet been released) holds the device.
	DeviceBusy

	// DeviceInvalid means the device exists but rejected the requested
	// configuration, typically after a device switch.
	DeviceInvalid
)

// String returns the human-readable name of the kind.
func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "unavailable"
	case DeviceBusy:
		return "busy"
	case DeviceInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by [DeviceError.Is], one per [DeviceErrorKind].
var (
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
	ErrDeviceBusy        = errors.New("audio: device busy")
	ErrDeviceInvalid     = errors.New("audio: device invalid")
)

// DeviceError reports a failure to acquire or drive an audio device.
type DeviceError struct {
	Kind   DeviceErrorKind
	Op     string
	Device string
	Err    error
}

// NewDeviceError returns a [*DeviceError]. device may be empty for the
// system default.
func NewDeviceError(kind DeviceErrorKind, op, device string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Device: device, Err: err}
}

func (e *DeviceError) Error() string {
	dev := e.Device
	if dev == "" {
		dev = "default"
	}
	if e.Err == nil {
		return fmt.Sprintf("audio: %s %q: device %s", e.Op, dev, e.Kind)
	}
	return fmt.Sprintf("audio: %s %q: device %s: %v", e.Op, dev, e.Kind, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches the sentinel error for e's kind.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrDeviceUnavailable:
		return e.Kind == DeviceUnavailable
	case ErrDeviceBusy:
		return e.Kind == DeviceBusy
	case ErrDeviceInvalid:
		return e.Kind == DeviceInvalid
	}
	return false
}

// DeviceErrorKindOf extracts the kind of the first [*DeviceError] in err's
// chain. ok is false when err carries no device error.
func DeviceErrorKindOf(err error) (kind DeviceErrorKind, ok bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
