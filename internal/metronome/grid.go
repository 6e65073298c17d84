// Package metronome builds the beat schedule for one take and renders its
// clicks sample-accurately into an output stream.
//
// A take always has the same shape: three count-in beats, seven mora beats and
// one tail beat. Every beat position is derived from its absolute index, so
// rounding never accumulates across the grid.
package metronome

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Fixed grid shape.
const (
	CountInBeats = 3
	MoraBeats    = 7
	TailBeats    = 1

	// TotalBeats is the number of clicks in one take.
	TotalBeats = CountInBeats + MoraBeats + TailBeats
)

// ErrInvalidTempo is returned by [NewGrid] for a non-positive or non-finite
// tempo, or a non-positive sample rate.
var ErrInvalidTempo = errors.New("metronome: invalid tempo")

// BeatKind classifies a beat in the grid.
type BeatKind int

const (
	BeatCountIn BeatKind = iota
	BeatMora
	BeatTail
)

// String returns the human-readable name of the beat kind.
func (k BeatKind) String() string {
	switch k {
	case BeatCountIn:
		return "count-in"
	case BeatMora:
		return "mora"
	case BeatTail:
		return "tail"
	default:
		return "unknown"
	}
}

// Grid is the immutable beat schedule of one take. The zero value is not
// usable; construct grids with [NewGrid].
type Grid struct {
	bpm        float64
	sampleRate int
	beats      [TotalBeats + 1]int64
}

// NewGrid returns the grid for bpm at sampleRate. Beat n is placed at
// round(n * 60/bpm * sampleRate).
func NewGrid(bpm float64, sampleRate int) (Grid, error) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return Grid{}, fmt.Errorf("%w: bpm %v must be positive", ErrInvalidTempo, bpm)
	}
	if sampleRate <= 0 {
		return Grid{}, fmt.Errorf("%w: sample rate %d must be positive", ErrInvalidTempo, sampleRate)
	}
	g := Grid{bpm: bpm, sampleRate: sampleRate}
	// One extra entry marks the end of the tail beat.
	for n := range g.beats {
		g.beats[n] = beatPosition(n, bpm, sampleRate)
	}
	return g, nil
}

func beatPosition(n int, bpm float64, sampleRate int) int64 {
	return int64(math.Round(float64(n) * 60 / bpm * float64(sampleRate)))
}

// BPM returns the tempo the grid was built with.
func (g Grid) BPM() float64 { return g.bpm }

// SampleRate returns the sample rate the grid was built with.
func (g Grid) SampleRate() int { return g.sampleRate }

// Beat returns the sample index of beat n. Indices 0..2 are the count-in,
// 3..9 the morae and 10 the tail beat; n == TotalBeats returns the end of the
// tail beat. Other indices are extrapolated with the same formula.
func (g Grid) Beat(n int) int64 {
	if n >= 0 && n <= TotalBeats {
		return g.beats[n]
	}
	return beatPosition(n, g.bpm, g.sampleRate)
}

// Beats returns every click position in order.
func (g Grid) Beats() []int64 {
	out := make([]int64, TotalBeats)
	copy(out, g.beats[:TotalBeats])
	return out
}

// Kind returns the kind of beat n.
func (g Grid) Kind(n int) BeatKind {
	switch {
	case n < CountInBeats:
		return BeatCountIn
	case n < CountInBeats+MoraBeats:
		return BeatMora
	default:
		return BeatTail
	}
}

// Mora returns the sample index of mora m (0-based).
func (g Grid) Mora(m int) int64 { return g.Beat(CountInBeats + m) }

// CountInEnd returns the first sample after the count-in, which is also the
// position of mora zero.
func (g Grid) CountInEnd() int64 { return g.beats[CountInBeats] }

// LastMora returns the sample index of the final mora beat.
func (g Grid) LastMora() int64 { return g.beats[CountInBeats+MoraBeats-1] }

// TailBeat returns the sample index of the tail beat.
func (g Grid) TailBeat() int64 { return g.beats[CountInBeats+MoraBeats] }

// End returns the first sample after the tail beat.
func (g Grid) End() int64 { return g.beats[TotalBeats] }

// InCountIn reports whether sample index i lies in the count-in region.
func (g Grid) InCountIn(i int64) bool { return i >= 0 && i < g.CountInEnd() }

// BeatInterval returns the nominal beat spacing in samples.
func (g Grid) BeatInterval() float64 {
	return 60 / g.bpm * float64(g.sampleRate)
}

// BeatDuration returns the nominal beat spacing as a duration.
func (g Grid) BeatDuration() time.Duration {
	return time.Duration(60 / g.bpm * float64(time.Second))
}

// CaptureLength returns how many frames a take on this grid must hold: the
// end of the tail beat, or minTail past the last mora beat, whichever is later.
func (g Grid) CaptureLength(minTail time.Duration) int64 {
	tail := int64(math.Round(minTail.Seconds() * float64(g.sampleRate)))
	return max(g.End(), g.LastMora()+tail)
}

// BeatAt returns the index of the latest beat at or before sample i, or -1
// before beat zero. Used by views to highlight the current mora.
func (g Grid) BeatAt(i int64) int {
	if i < 0 {
		return -1
	}
	for n := TotalBeats - 1; n >= 0; n-- {
		if i >= g.beats[n] {
			return n
		}
	}
	return -1
}
