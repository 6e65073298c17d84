package metronome_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/vocalparam/internal/metronome"
)

func TestNewGrid_ExactBeatPositions(t *testing.T) {
	t.Parallel()
	for _, bpm := range []float64{60, 97.3, 120, 133.33, 180, 240} {
		for _, sr := range []int{44100, 48000, 96000} {
			g, err := metronome.NewGrid(bpm, sr)
			if err != nil {
				t.Fatalf("NewGrid(%v, %d): %v", bpm, sr, err)
			}
			var prev int64 = -1
			for n := 0; n < metronome.TotalBeats; n++ {
				want := int64(math.Round(float64(n) * 60 / bpm * float64(sr)))
				got := g.Beat(n)
				if got != want {
					t.Errorf("bpm=%v sr=%d beat %d: got %d, want %d", bpm, sr, n, got, want)
				}
				if got <= prev {
					t.Errorf("bpm=%v sr=%d beat %d: %d not after %d", bpm, sr, n, got, prev)
				}
				prev = got
			}
		}
	}
}

func TestNewGrid_RejectsInvalidTempo(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		bpm  float64
		sr   int
	}{
		{"zero bpm", 0, 44100},
		{"negative bpm", -120, 44100},
		{"nan bpm", math.NaN(), 44100},
		{"inf bpm", math.Inf(1), 44100},
		{"zero rate", 120, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := metronome.NewGrid(tc.bpm, tc.sr); !errors.Is(err, metronome.ErrInvalidTempo) {
				t.Errorf("got %v, want ErrInvalidTempo", err)
			}
		})
	}
}

func TestGrid_Regions(t *testing.T) {
	t.Parallel()
	g, err := metronome.NewGrid(120, 44100)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if got := g.CountInEnd(); got != 66150 {
		t.Errorf("CountInEnd: got %d, want 66150", got)
	}
	if got := g.LastMora(); got != 198450 {
		t.Errorf("LastMora: got %d, want 198450", got)
	}
	if got := g.TailBeat(); got != 220500 {
		t.Errorf("TailBeat: got %d, want 220500", got)
	}
	if got := g.End(); got != 242550 {
		t.Errorf("End: got %d, want 242550", got)
	}
	if !g.InCountIn(0) || !g.InCountIn(66149) || g.InCountIn(66150) {
		t.Error("InCountIn boundaries are wrong")
	}
	if got := g.Mora(0); got != g.CountInEnd() {
		t.Errorf("Mora(0): got %d, want %d", got, g.CountInEnd())
	}
	if got := g.BeatInterval(); got != 22050 {
		t.Errorf("BeatInterval: got %v, want 22050", got)
	}
	if got := g.BeatDuration(); got != 500*time.Millisecond {
		t.Errorf("BeatDuration: got %v, want 500ms", got)
	}
	if got := g.Kind(2); got != metronome.BeatCountIn {
		t.Errorf("Kind(2): got %v, want count-in", got)
	}
	if got := g.Kind(9); got != metronome.BeatMora {
		t.Errorf("Kind(9): got %v, want mora", got)
	}
	if got := g.Kind(10); got != metronome.BeatTail {
		t.Errorf("Kind(10): got %v, want tail", got)
	}
	if got := g.BeatAt(66150 + 10); got != 3 {
		t.Errorf("BeatAt: got %d, want 3", got)
	}
	if got := g.BeatAt(-1); got != -1 {
		t.Errorf("BeatAt(-1): got %d, want -1", got)
	}
}

func TestGrid_CaptureLength(t *testing.T) {
	t.Parallel()
	g, _ := metronome.NewGrid(120, 44100)
	// Four seconds past the last mora outlasts the tail beat at 120 BPM.
	if got := g.CaptureLength(4 * time.Second); got != 198450+176400 {
		t.Errorf("CaptureLength(4s): got %d, want %d", got, 198450+176400)
	}
	// With no tail requirement the grid end wins.
	if got := g.CaptureLength(0); got != g.End() {
		t.Errorf("CaptureLength(0): got %d, want %d", got, g.End())
	}
}

func TestClicks_Shape(t *testing.T) {
	t.Parallel()
	c := metronome.NewClicks(44100, metronome.ClickConfig{})
	if got := c.Len(); got != 2205 {
		t.Fatalf("click length: got %d, want 2205 (50ms)", got)
	}
	accent := c.ForBeat(metronome.CountInBeats)
	normal := c.ForBeat(metronome.CountInBeats + 1)
	countIn := c.ForBeat(0)
	if peak(accent) <= peak(normal) {
		t.Errorf("accent peak %d should exceed normal peak %d", peak(accent), peak(normal))
	}
	if &countIn[0] == &normal[0] {
		t.Error("count-in click must differ from the mora click")
	}
	if last := normal[len(normal)-1]; last != 0 {
		t.Errorf("click must fade to silence, last sample %d", last)
	}
}

func TestRenderer_BeatZeroInFirstBlock(t *testing.T) {
	t.Parallel()
	g, _ := metronome.NewGrid(120, 44100)
	clicks := metronome.NewClicks(44100, metronome.ClickConfig{})
	r := metronome.NewRenderer(g, clicks, 1)

	block := make([]int16, 512)
	r.Render(block, 0)

	want := clicks.ForBeat(0)
	for i := range block {
		if block[i] != want[i] {
			t.Fatalf("sample %d: got %d, want %d", i, block[i], want[i])
		}
	}
}

func TestRenderer_BlockSplitMatchesWholeRender(t *testing.T) {
	t.Parallel()
	g, _ := metronome.NewGrid(137, 48000)
	clicks := metronome.NewClicks(48000, metronome.ClickConfig{})
	total := int(g.End()) + 1000

	whole := make([]int16, total*2)
	metronome.NewRenderer(g, clicks, 2).Render(whole, 0)

	r := metronome.NewRenderer(g, clicks, 2)
	split := make([]int16, 0, total*2)
	const blockSize = 333
	for pos := 0; pos < total; pos += blockSize {
		n := min(blockSize, total-pos)
		block := make([]int16, n*2)
		r.Render(block, int64(pos))
		split = append(split, block...)
	}

	for i := range whole {
		if whole[i] != split[i] {
			t.Fatalf("sample %d: whole %d, split %d", i, whole[i], split[i])
		}
	}

	// Every click starts exactly on its grid position.
	for n := 0; n < metronome.TotalBeats; n++ {
		start := int(g.Beat(n))
		click := clicks.ForBeat(n)
		if got := whole[(start+1)*2]; got != click[1] {
			t.Errorf("beat %d: sample after onset got %d, want %d", n, got, click[1])
		}
	}
}

func peak(s []int16) int16 {
	var p int16
	for _, v := range s {
		if v > p {
			p = v
		}
	}
	return p
}
