package wav_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/vocalparam/pkg/audio/wav"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 44100, 2); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := buf.Len(); got != 44+len(samples)*2 {
		t.Fatalf("encoded length: got %d, want %d", got, 44+len(samples)*2)
	}

	got, info, err := wav.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 || info.Frames != 3 {
		t.Errorf("info: got %+v, want 44100Hz/2ch/3 frames", info)
	}
	if len(got) != len(samples) {
		t.Fatalf("samples: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestVerify_DetectsStaleHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := wav.Encode(&buf, make([]int16, 100), 44100, 1); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data := buf.Bytes()

	if _, err := wav.Verify(data); err != nil {
		t.Fatalf("Verify on a fresh encoding: %v", err)
	}

	// A header written for a larger buffer than was actually flushed.
	stale := bytes.Clone(data[:len(data)-20])
	if _, err := wav.Verify(stale); !errors.Is(err, wav.ErrHeaderMismatch) {
		t.Errorf("truncated payload: got %v, want ErrHeaderMismatch", err)
	}

	// RIFF size patched to disagree with the file length.
	patched := bytes.Clone(data)
	binary.LittleEndian.PutUint32(patched[4:8], 9999)
	if _, err := wav.Verify(patched); !errors.Is(err, wav.ErrHeaderMismatch) {
		t.Errorf("bad RIFF size: got %v, want ErrHeaderMismatch", err)
	}
}

func TestWriteFile_VerifiesOnDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ka.wav")
	samples := make([]int16, 44100)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	if err := wav.WriteFile(path, samples, 44100, 1); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := wav.VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if info.Frames != len(samples) {
		t.Errorf("frames: got %d, want %d", info.Frames, len(samples))
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should have been renamed away")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("RIFX0000WAVEfmt ")},
		{"not wave", []byte("RIFF0000AVI fmt ")},
		{"no data chunk", append([]byte("RIFF\x04\x00\x00\x00WAVE"), make([]byte, 4)...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := wav.Decode(bytes.NewReader(tc.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
