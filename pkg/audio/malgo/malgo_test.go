package malgo

import (
	"errors"
	"testing"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg  string
		want audio.DeviceErrorKind
	}{
		{"Device or resource busy", audio.DeviceBusy},
		{"device in use by another application", audio.DeviceBusy},
		{"No device found", audio.DeviceUnavailable},
		{"device not found", audio.DeviceUnavailable},
		{"Invalid argument", audio.DeviceInvalid},
		{"format not supported", audio.DeviceInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()
			err := classify("open", "Focusrite", errors.New(tc.msg))
			kind, ok := audio.DeviceErrorKindOf(err)
			if !ok {
				t.Fatalf("classify returned a non-device error: %v", err)
			}
			if kind != tc.want {
				t.Errorf("kind: got %v, want %v", kind, tc.want)
			}
		})
	}
}

func TestInt16View(t *testing.T) {
	t.Parallel()
	b := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}
	v := int16View(b, 3)
	want := []int16{1, -1, -32768}
	if len(v) != len(want) {
		t.Fatalf("length: got %d, want %d", len(v), len(want))
	}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, v[i], want[i])
		}
	}

	// Writes through the view land in the original buffer.
	v[0] = 0x0203
	if b[0] != 0x03 || b[1] != 0x02 {
		t.Errorf("view is not aliased: got % x", b[:2])
	}

	if got := int16View(nil, 4); got != nil {
		t.Errorf("nil buffer: got %v, want nil", got)
	}
	if got := int16View(b, 10); len(got) != 3 {
		t.Errorf("oversized n: got %d samples, want 3", len(got))
	}
}
