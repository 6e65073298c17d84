package metronome

import "math"

// Renderer writes the clicks of one grid into output blocks. Positions are
// take-relative frame indices: frame 0 is the first frame of the first block
// the renderer is asked for, so beat zero sounds from the very first block.
//
// Render does not allocate and may be called from an audio callback.
type Renderer struct {
	grid     Grid
	clicks   *Clicks
	channels int
}

// NewRenderer returns a renderer for grid writing to an output with the given
// channel count.
func NewRenderer(grid Grid, clicks *Clicks, channels int) *Renderer {
	if channels <= 0 {
		channels = 1
	}
	return &Renderer{grid: grid, clicks: clicks, channels: channels}
}

// Grid returns the grid being rendered.
func (r *Renderer) Grid() Grid { return r.grid }

// Render mixes every click overlapping frames [pos, pos+len(out)/channels)
// into out. Existing content of out is kept; the sum saturates at the int16
// range.
func (r *Renderer) Render(out []int16, pos int64) {
	frames := int64(len(out) / r.channels)
	blockEnd := pos + frames
	for n := range TotalBeats {
		start := r.grid.Beat(n)
		click := r.clicks.ForBeat(n)
		end := start + int64(len(click))
		if end <= pos || start >= blockEnd {
			continue
		}
		from := max(start, pos)
		to := min(end, blockEnd)
		for i := from; i < to; i++ {
			s := int32(click[i-start])
			base := int(i-pos) * r.channels
			for c := range r.channels {
				out[base+c] = saturate(int32(out[base+c]) + s)
			}
		}
	}
}

func saturate(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
