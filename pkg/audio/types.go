package audio

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// SupportedSampleRates lists the sample rates a stream may be opened with.
var SupportedSampleRates = []int{44100, 48000, 88200, 96000}

// Format describes the fixed shape of a duplex stream. Every block handed to
// a [Callback] holds exactly BlockSize frames in each direction.
type Format struct {
	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// InputChannels is the capture channel count: 1 for mono, 2 for stereo.
	InputChannels int

	// OutputChannels is the playback channel count: 1 for mono, 2 for stereo.
	OutputChannels int

	// BlockSize is the number of frames per callback block.
	BlockSize int
}

// Validate reports whether f describes a stream this package can drive.
func (f Format) Validate() error {
	var errs []error
	if !slices.Contains(SupportedSampleRates, f.SampleRate) {
		errs = append(errs, fmt.Errorf("sample rate %d is not supported; valid values: %v", f.SampleRate, SupportedSampleRates))
	}
	if f.InputChannels != 1 && f.InputChannels != 2 {
		errs = append(errs, fmt.Errorf("input channels %d must be 1 or 2", f.InputChannels))
	}
	if f.OutputChannels != 1 && f.OutputChannels != 2 {
		errs = append(errs, fmt.Errorf("output channels %d must be 1 or 2", f.OutputChannels))
	}
	if f.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size %d must be positive", f.BlockSize))
	}
	return errors.Join(errs...)
}

// BlockDuration returns the wall-clock length of one callback block.
func (f Format) BlockDuration() time.Duration {
	return FramesToDuration(int64(f.BlockSize), f.SampleRate)
}

// FramesToDuration converts a frame count at sampleRate into a duration.
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames converts d into a whole number of frames at sampleRate,
// rounding to the nearest frame.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	return (int64(d)*int64(sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// String returns a human-readable description, e.g. "44100Hz mono/stereo x512".
func (f Format) String() string {
	return fmt.Sprintf("%dHz %s/%s x%d", f.SampleRate,
		channelName(f.InputChannels), channelName(f.OutputChannels), f.BlockSize)
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
