package metronome

import (
	"math"
	"time"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// Click tones in Hz.
const (
	countInFreq = 800
	accentFreq  = 1500
	normalFreq  = 1000
)

// ClickConfig sets the loudness and length of the synthesised clicks.
// Volumes are linear amplitudes in [0, 1].
type ClickConfig struct {
	Volume        float64
	AccentVolume  float64
	CountInVolume float64
	Length        time.Duration
}

// DefaultClickConfig returns the stock click levels.
func DefaultClickConfig() ClickConfig {
	return ClickConfig{
		Volume:        0.2,
		AccentVolume:  0.3,
		CountInVolume: 0.2,
		Length:        50 * time.Millisecond,
	}
}

// Clicks holds the pre-rendered click waveforms for one sample rate.
// It is immutable after construction and safe for concurrent use.
type Clicks struct {
	countIn []int16
	accent  []int16
	normal  []int16
}

// NewClicks synthesises the three click sounds at sampleRate. Zero fields in
// cfg fall back to [DefaultClickConfig].
func NewClicks(sampleRate int, cfg ClickConfig) *Clicks {
	def := DefaultClickConfig()
	if cfg.Volume <= 0 {
		cfg.Volume = def.Volume
	}
	if cfg.AccentVolume <= 0 {
		cfg.AccentVolume = def.AccentVolume
	}
	if cfg.CountInVolume <= 0 {
		cfg.CountInVolume = def.CountInVolume
	}
	if cfg.Length <= 0 {
		cfg.Length = def.Length
	}
	n := int(audio.DurationToFrames(cfg.Length, sampleRate))
	return &Clicks{
		countIn: tone(countInFreq, cfg.CountInVolume, n, sampleRate),
		accent:  tone(accentFreq, cfg.AccentVolume, n, sampleRate),
		normal:  tone(normalFreq, cfg.Volume, n, sampleRate),
	}
}

// tone renders n samples of a sine at freq with a linear fade-out to zero.
func tone(freq, volume float64, n, sampleRate int) []int16 {
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		fade := 1.0
		if n > 1 {
			fade = 1 - float64(i)/float64(n-1)
		}
		out[i] = audio.FloatToInt16(math.Sin(2*math.Pi*freq*t) * volume * fade)
	}
	return out
}

// ForBeat returns the click waveform for beat n of a grid. The first mora
// beat is accented so the singer hears where the line starts.
func (c *Clicks) ForBeat(n int) []int16 {
	switch {
	case n < CountInBeats:
		return c.countIn
	case n == CountInBeats:
		return c.accent
	default:
		return c.normal
	}
}

// Len returns the length of every click in samples.
func (c *Clicks) Len() int { return len(c.normal) }
