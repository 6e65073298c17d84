// Package recording implements the take state machine: a session attaches
// to the persistent device stream, plays the metronome, and captures input
// into a buffer that is allocated before the first block arrives.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vocalparam/internal/device"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

// State is the lifecycle state of a [Session].
type State int32

const (
	StateIdle State = iota
	StateCountingIn
	StateRecording
	StateFinalizing
	StateAccepted
	StateDiscarded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountingIn:
		return "counting_in"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateAccepted:
		return "accepted"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateAccepted || s == StateDiscarded }

// Status is a point-in-time view of a session for display.
type Status struct {
	Alias    string    `json:"alias"`
	Morae    []string  `json:"morae"`
	State    State     `json:"state"`
	BPM      float64   `json:"bpm"`
	Beat     int       `json:"beat"`
	Position int64     `json:"position"`
	Target   int64     `json:"target"`
	Progress float64   `json:"progress"`
	Started  time.Time `json:"started"`
	Error    string    `json:"error,omitempty"`
}

// Attacher is the part of [device.Stream] a session needs.
type Attacher interface {
	Attach(p device.Processor) error
	Detach(p device.Processor)
}

// Config configures a [Session].
type Config struct {
	Line   Line
	Grid   metronome.Grid
	Clicks *metronome.Clicks
	Format audio.Format

	// MinTail is the minimum capture length after the last mora beat.
	// Values below [MinimumTail] are raised to it.
	MinTail time.Duration
}

// MinimumTail is the least audio every take holds after its last mora
// beat, leaving room for the release and the oto cutoff.
const MinimumTail = 4 * time.Second

// Session records one take. The audio callback appends into a buffer sized
// for the whole capture target; nothing on that path allocates.
type Session struct {
	line     Line
	grid     metronome.Grid
	renderer *metronome.Renderer
	minTail  time.Duration
	channels int
	rate     int
	target   int64

	state atomic.Int32
	pos   atomic.Int64

	// bufMu is only held while a block is copied in or the buffer is
	// handed out.
	bufMu sync.Mutex
	buf   []int16

	dev      Attacher
	doneOnce sync.Once
	done     chan struct{}
}

// New allocates a session and its full take buffer.
func New(cfg Config) (*Session, error) {
	if err := cfg.Line.Validate(); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	if cfg.Grid.SampleRate() != cfg.Format.SampleRate {
		return nil, fmt.Errorf("recording: grid sample rate %d does not match stream rate %d",
			cfg.Grid.SampleRate(), cfg.Format.SampleRate)
	}
	if cfg.Clicks == nil {
		cfg.Clicks = metronome.NewClicks(cfg.Format.SampleRate, metronome.DefaultClickConfig())
	}
	cfg.MinTail = max(cfg.MinTail, MinimumTail)
	target := cfg.Grid.CaptureLength(cfg.MinTail)
	return &Session{
		line:     cfg.Line,
		grid:     cfg.Grid,
		renderer: metronome.NewRenderer(cfg.Grid, cfg.Clicks, cfg.Format.OutputChannels),
		minTail:  cfg.MinTail,
		channels: cfg.Format.InputChannels,
		rate:     cfg.Format.SampleRate,
		target:   target,
		buf:      make([]int16, 0, target*int64(cfg.Format.InputChannels)),
		done:     make(chan struct{}),
	}, nil
}

// Line returns the line being recorded.
func (s *Session) Line() Line { return s.line }

// Grid returns the beat grid of the take.
func (s *Session) Grid() metronome.Grid { return s.grid }

// Target returns the capture target in frames.
func (s *Session) Target() int64 { return s.target }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Position returns how many frames have been captured.
func (s *Session) Position() int64 { return s.pos.Load() }

// Progress returns the captured fraction of the capture target. It is
// exactly 1 once the buffer is complete.
func (s *Session) Progress() float64 {
	pos := s.pos.Load()
	if pos >= s.target {
		return 1
	}
	return float64(pos) / float64(s.target)
}

// Status returns a snapshot of the session. Started and Error are left for
// the owner to fill in.
func (s *Session) Status() Status {
	return Status{
		Alias:    s.line.Alias,
		Morae:    s.line.Morae,
		State:    s.State(),
		BPM:      s.grid.BPM(),
		Beat:     s.CurrentBeat(),
		Position: s.Position(),
		Target:   s.target,
		Progress: s.Progress(),
	}
}

// CurrentBeat returns the index of the beat being played, or -1.
func (s *Session) CurrentBeat() int {
	return s.grid.BeatAt(s.pos.Load())
}

// Done is closed when the buffer reaches the capture target or the session
// is discarded.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until [Session.Done] is closed or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start attaches the session to dev. Beat zero sounds in the first block
// the device delivers after Start returns.
func (s *Session) Start(dev Attacher) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateCountingIn)) {
		return fmt.Errorf("recording: start in state %s: %w", s.State(), ErrWrongState)
	}
	if err := dev.Attach(s); err != nil {
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("recording: start: %w", err)
	}
	s.dev = dev
	slog.Debug("take started", "alias", s.line.Alias, "target_frames", s.target)
	return nil
}

// Process implements [device.Processor]. It runs on the audio thread.
func (s *Session) Process(out, in []int16) {
	pos := s.pos.Load()
	if !s.capturing() || pos >= s.target {
		return
	}

	s.renderer.Render(out, pos)

	n := min(int64(len(in)/s.channels), s.target-pos)
	s.bufMu.Lock()
	// Re-checked under the lock so that no block lands after Finalize or
	// Discard has taken the buffer.
	if !s.capturing() {
		s.bufMu.Unlock()
		return
	}
	s.buf = append(s.buf, in[:n*int64(s.channels)]...)
	pos += n
	s.pos.Store(pos)
	s.bufMu.Unlock()

	if pos >= s.grid.CountInEnd() {
		s.state.CompareAndSwap(int32(StateCountingIn), int32(StateRecording))
	}
	if pos >= s.target {
		s.finish()
	}
}

func (s *Session) capturing() bool {
	st := State(s.state.Load())
	return st == StateCountingIn || st == StateRecording
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Finalize stops capture and returns the take padded with silence to the
// capture target. A take stopped before its tail beat is rejected with a
// [*BufferIntegrityError] and the session is discarded.
func (s *Session) Finalize() (*Take, error) {
	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateFinalizing)) &&
		!s.state.CompareAndSwap(int32(StateCountingIn), int32(StateFinalizing)) {
		return nil, fmt.Errorf("recording: finalize in state %s: %w", s.State(), ErrWrongState)
	}
	s.detach()

	s.bufMu.Lock()
	captured := s.pos.Load()
	samples := s.buf[:s.target*int64(s.channels)]
	s.bufMu.Unlock()

	if captured < s.grid.TailBeat() {
		s.release()
		return nil, &BufferIntegrityError{
			Alias:  s.line.Alias,
			Reason: "stopped before the tail beat",
			Have:   captured,
			Want:   s.grid.TailBeat(),
		}
	}

	// Frames past the captured position were never appended, so the
	// pre-allocated buffer already holds silence there.

	take := &Take{
		Line:       s.line,
		Samples:    samples,
		Channels:   s.channels,
		SampleRate: s.rate,
		Grid:       s.grid,
	}
	tail := audio.FramesToDuration(take.Frames()-s.grid.LastMora(), s.rate)
	if tail < s.minTail {
		s.release()
		return nil, &BufferIntegrityError{
			Alias:  s.line.Alias,
			Reason: "tail after the last mora is too short",
			Have:   take.Frames() - s.grid.LastMora(),
			Want:   audio.DurationToFrames(s.minTail, s.rate),
		}
	}
	return take, nil
}

// Accept hands the finalized take over. The session no longer references
// the buffer afterwards.
func (s *Session) Accept(take *Take) error {
	if !s.state.CompareAndSwap(int32(StateFinalizing), int32(StateAccepted)) {
		return fmt.Errorf("recording: accept in state %s: %w", s.State(), ErrWrongState)
	}
	s.bufMu.Lock()
	s.buf = nil
	s.bufMu.Unlock()
	slog.Info("take accepted", "alias", take.Alias(), "frames", take.Frames())
	return nil
}

// Discard abandons the take from any state before Accepted. The callback
// stops appending at the next block.
func (s *Session) Discard() error {
	for {
		st := State(s.state.Load())
		if st == StateAccepted {
			return fmt.Errorf("recording: discard in state %s: %w", st, ErrWrongState)
		}
		if st == StateDiscarded {
			return nil
		}
		if s.state.CompareAndSwap(int32(st), int32(StateDiscarded)) {
			break
		}
	}
	s.detach()
	s.release()
	slog.Info("take discarded", "alias", s.line.Alias)
	return nil
}

func (s *Session) detach() {
	if s.dev != nil {
		s.dev.Detach(s)
	}
	s.finish()
}

func (s *Session) release() {
	s.state.Store(int32(StateDiscarded))
	s.bufMu.Lock()
	s.buf = nil
	s.bufMu.Unlock()
}
