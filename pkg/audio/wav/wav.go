// Package wav reads and writes 16-bit PCM RIFF/WAVE files.
//
// Only the canonical 44-byte header layout is written. [WriteFile] verifies
// what actually reached disk: the RIFF and data chunk sizes in the written
// header must describe exactly the bytes that follow them.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	headerSize    = 44
	bitsPerSample = 16
)

// ErrHeaderMismatch is returned by [WriteFile] and [Verify] when a header's
// declared sizes disagree with the data actually present.
var ErrHeaderMismatch = errors.New("wav: header size does not match written data")

// Info describes a decoded WAV file.
type Info struct {
	SampleRate int
	Channels   int

	// Frames is the number of sample frames in the data chunk.
	Frames int
}

// Encode writes samples (interleaved int16) as a WAV stream to w. The header
// sizes are derived from len(samples), so they always match the payload.
func Encode(w io.Writer, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("wav: invalid format %dHz/%dch", sampleRate, channels)
	}
	dataSize := len(samples) * 2
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	hdr := make([]byte, headerSize)

	// RIFF chunk descriptor
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize)) // file size − 8
	copy(hdr[8:12], "WAVE")

	// fmt sub-chunk
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("wav: write data: %w", err)
	}
	return nil
}

// WriteFile encodes samples into path, syncs it, and then verifies the file
// on disk with [Verify]. The file is written to a temporary sibling first and
// renamed into place, so a failed write never leaves a truncated take behind.
func WriteFile(path string, samples []int16, sampleRate, channels int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("wav: create %q: %w", path, err)
	}
	if err := Encode(f, samples, sampleRate, channels); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("wav: sync %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wav: close %q: %w", path, err)
	}

	info, err := VerifyFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if want := len(samples) / channels; info.Frames != want {
		os.Remove(tmp)
		return fmt.Errorf("%w: header declares %d frames, wrote %d", ErrHeaderMismatch, info.Frames, want)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wav: rename %q: %w", path, err)
	}
	return nil
}

// VerifyFile reads the file at path and checks it with [Verify].
func VerifyFile(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("wav: read %q: %w", path, err)
	}
	return Verify(data)
}

// Verify parses a complete WAV image and checks that the RIFF size and the
// data chunk size match the bytes present. A header that references more
// data than exists (or less) yields [ErrHeaderMismatch].
func Verify(data []byte) (Info, error) {
	info, off, size, err := parse(data)
	if err != nil {
		return Info{}, err
	}
	riff := int(binary.LittleEndian.Uint32(data[4:8]))
	if riff != len(data)-8 {
		return Info{}, fmt.Errorf("%w: RIFF size %d, file holds %d", ErrHeaderMismatch, riff, len(data)-8)
	}
	if off+size != len(data) {
		return Info{}, fmt.Errorf("%w: data chunk size %d, %d bytes follow", ErrHeaderMismatch, size, len(data)-off)
	}
	return info, nil
}

// Decode reads a WAV stream and returns its interleaved int16 samples.
// Trailing bytes beyond the declared data chunk are ignored; a data chunk
// that claims more bytes than are present is an error.
func Decode(r io.Reader) ([]int16, Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Info{}, fmt.Errorf("wav: read: %w", err)
	}
	info, off, size, err := parse(data)
	if err != nil {
		return nil, Info{}, err
	}
	if off+size > len(data) {
		return nil, Info{}, fmt.Errorf("%w: data chunk size %d, %d bytes follow", ErrHeaderMismatch, size, len(data)-off)
	}
	samples := make([]int16, size/2)
	if err := binary.Read(bytes.NewReader(data[off:off+size]), binary.LittleEndian, samples); err != nil {
		return nil, Info{}, fmt.Errorf("wav: decode samples: %w", err)
	}
	return samples, info, nil
}

// parse walks the RIFF chunks of data and returns the format plus the offset
// and declared size of the data chunk.
func parse(data []byte) (Info, int, int, error) {
	if len(data) < 12 {
		return Info{}, 0, 0, errors.New("wav: too short to be a valid RIFF file")
	}
	if string(data[0:4]) != "RIFF" {
		return Info{}, 0, 0, errors.New("wav: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return Info{}, 0, 0, errors.New("wav: missing WAVE identifier")
	}

	var info Info
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(data) {
				return Info{}, 0, 0, errors.New("wav: truncated fmt chunk")
			}
			fmtData := data[offset+8:]
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return Info{}, 0, 0, fmt.Errorf("wav: unsupported audio format %d (want PCM)", format)
			}
			if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != bitsPerSample {
				return Info{}, 0, 0, fmt.Errorf("wav: unsupported bit depth %d", bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt || info.Channels == 0 {
				return Info{}, 0, 0, errors.New("wav: data chunk before fmt chunk")
			}
			info.Frames = chunkSize / (2 * info.Channels)
			return info, offset + 8, chunkSize, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Info{}, 0, 0, errors.New("wav: missing data chunk")
}
