package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/config"
	"github.com/MrWong99/vocalparam/internal/device"
	"github.com/MrWong99/vocalparam/internal/metronome"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
)

// Take outcomes recorded on the takes counter.
const (
	outcomeAccepted  = "accepted"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
)

// SessionManager manages the lifecycle of recording sessions.
// Only one take can be in flight at a time (enforced by mutex): a finalized
// take has to be accepted or discarded before the next one starts.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	session  *recording.Session
	take     *recording.Take
	finalErr error
	started  time.Time
	player   *recording.Player

	metronome atomic.Pointer[config.MetronomeConfig]

	// Dependencies injected at construction.
	device    *device.Stream
	worker    *analysis.Worker
	store     *store.Store
	metrics   *observe.Metrics
	outputDir string
	minTail   time.Duration
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Device    *device.Stream
	Worker    *analysis.Worker
	Store     *store.Store
	Metrics   *observe.Metrics
	Metronome config.MetronomeConfig
	Recording config.RecordingConfig
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	sm := &SessionManager{
		device:    cfg.Device,
		worker:    cfg.Worker,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		outputDir: cfg.Recording.OutputDir,
		minTail:   cfg.Recording.MinTail,
	}
	sm.SetMetronome(cfg.Metronome)
	return sm
}

// SetMetronome replaces tempo and click levels. The change applies to the
// next take started.
func (sm *SessionManager) SetMetronome(cfg config.MetronomeConfig) {
	sm.metronome.Store(&cfg)
}

// Start begins recording line: it builds the beat grid for the current
// tempo, allocates the take buffer and attaches the session to the device.
//
// Returns an error wrapping [device.ErrSessionActive] if a take is still
// recording or awaiting review.
func (sm *SessionManager) Start(ctx context.Context, line recording.Line) (recording.Status, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session != nil && !sm.session.State().Terminal() {
		return recording.Status{}, fmt.Errorf("app: take %q is %s: %w",
			sm.session.Line().Alias, sm.session.State(), device.ErrSessionActive)
	}
	sm.stopPlayerLocked()

	mc := sm.metronome.Load()
	f := sm.device.Format()
	grid, err := metronome.NewGrid(mc.BPM, f.SampleRate)
	if err != nil {
		return recording.Status{}, fmt.Errorf("app: start take %q: %w", line.Alias, err)
	}
	sess, err := recording.New(recording.Config{
		Line:    line,
		Grid:    grid,
		Clicks:  metronome.NewClicks(f.SampleRate, mc.Clicks()),
		Format:  f,
		MinTail: sm.minTail,
	})
	if err != nil {
		return recording.Status{}, err
	}
	if err := sess.Start(sm.device); err != nil {
		return recording.Status{}, err
	}

	sm.session = sess
	sm.take = nil
	sm.finalErr = nil
	sm.started = time.Now().UTC()
	sm.metrics.ActiveSessions.Add(ctx, 1)
	go sm.watch(sess)

	slog.Info("take started",
		"alias", line.Alias,
		"bpm", mc.BPM,
		"target_frames", sess.Target(),
	)
	return sm.statusLocked(), nil
}

// watch finalizes sess once its buffer is complete. Done also closes when
// the session is finalized early or discarded; those paths have already
// moved the state on.
func (sm *SessionManager) watch(sess *recording.Session) {
	<-sess.Done()
	sm.metrics.ActiveSessions.Add(context.Background(), -1)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session != sess {
		return
	}
	switch sess.State() {
	case recording.StateCountingIn, recording.StateRecording:
		_ = sm.finalizeLocked(context.Background())
	}
}

func (sm *SessionManager) finalizeLocked(ctx context.Context) error {
	take, err := sm.session.Finalize()
	if err != nil {
		sm.finalErr = err
		sm.metrics.RecordTake(ctx, outcomeFailed)
		slog.Warn("take rejected at finalize", "alias", sm.session.Line().Alias, "err", err)
		return err
	}
	sm.take = take
	slog.Info("take ready for review", "alias", take.Alias(), "frames", take.Frames())
	return nil
}

// Stop ends capture early and finalizes the take. A take stopped before
// its tail beat is rejected with a [*recording.BufferIntegrityError].
func (sm *SessionManager) Stop(ctx context.Context) (recording.Status, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session == nil {
		return recording.Status{}, fmt.Errorf("app: stop: no take: %w", recording.ErrWrongState)
	}
	switch st := sm.session.State(); st {
	case recording.StateCountingIn, recording.StateRecording:
	case recording.StateFinalizing:
		// Already complete; the watcher finalized it.
		return sm.statusLocked(), nil
	default:
		return sm.statusLocked(), fmt.Errorf("app: stop %q in state %s: %w",
			sm.session.Line().Alias, st, recording.ErrWrongState)
	}
	if err := sm.finalizeLocked(ctx); err != nil {
		return sm.statusLocked(), err
	}
	return sm.statusLocked(), nil
}

// Accept writes the finalized take to the output directory, hands it to
// the store and queues it for analysis. It returns the store generation of
// the new take.
//
// A failed artifact write discards the take and returns the
// [*recording.BufferIntegrityError]; the take can then only be re-recorded.
func (sm *SessionManager) Accept(ctx context.Context, alias string) (uint64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.checkAliasLocked("accept", alias); err != nil {
		return 0, err
	}
	if sm.finalErr != nil {
		return 0, sm.finalErr
	}
	if sm.take == nil {
		return 0, fmt.Errorf("app: accept %q in state %s: %w", alias, sm.session.State(), recording.ErrWrongState)
	}

	path, err := sm.take.WriteWAV(sm.outputDir)
	if err != nil {
		_ = sm.session.Discard()
		sm.take = nil
		sm.finalErr = err
		sm.metrics.RecordTake(ctx, outcomeFailed)
		return 0, err
	}
	if err := sm.session.Accept(sm.take); err != nil {
		return 0, err
	}
	take := sm.take
	sm.take = nil
	sm.metrics.RecordTake(ctx, outcomeAccepted)

	gen, err := sm.worker.Submit(ctx, take, path)
	if err != nil {
		return gen, fmt.Errorf("app: queue analysis for %q: %w", alias, err)
	}
	return gen, nil
}

// Discard abandons the current take, whether it is still recording or
// awaiting review. Discarding an already discarded take is a no-op.
func (sm *SessionManager) Discard(ctx context.Context, alias string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.checkAliasLocked("discard", alias); err != nil {
		return err
	}
	prev := sm.session.State()
	if err := sm.session.Discard(); err != nil {
		return err
	}
	sm.take = nil
	if prev != recording.StateDiscarded {
		sm.metrics.RecordTake(ctx, outcomeDiscarded)
	}
	return nil
}

// Play plays a take back through the device for review. The pending take is
// played when alias names it; otherwise the accepted take kept by the store
// is used. Playback stops when the next take starts.
func (sm *SessionManager) Play(ctx context.Context, alias string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var take *recording.Take
	if sm.session != nil && sm.session.Line().Alias == alias && sm.take != nil {
		take = sm.take
	} else {
		rec, err := sm.store.Get(ctx, alias)
		if err != nil {
			return err
		}
		if rec.Take == nil {
			return fmt.Errorf("app: play %q: no audio: %w", alias, store.ErrNotFound)
		}
		take = rec.Take
	}

	sm.stopPlayerLocked()
	p, err := recording.NewPlayer(take, sm.device.Format().OutputChannels)
	if err != nil {
		return err
	}
	if err := p.Start(sm.device); err != nil {
		return err
	}
	sm.player = p

	go func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), take.Duration()+time.Second)
		defer cancel()
		if err := p.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("playback ended early", "alias", alias, "err", err)
		}
	}()
	slog.Debug("playback started", "alias", alias, "frames", take.Frames())
	return nil
}

// IsActive reports whether a take is recording or awaiting review.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session != nil && !sm.session.State().Terminal()
}

// Status returns the state of the most recent take. ok is false before the
// first take.
func (sm *SessionManager) Status() (st recording.Status, ok bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session == nil {
		return recording.Status{}, false
	}
	return sm.statusLocked(), true
}

func (sm *SessionManager) statusLocked() recording.Status {
	st := sm.session.Status()
	st.Started = sm.started
	if sm.finalErr != nil {
		st.Error = sm.finalErr.Error()
	}
	return st
}

// Close stops playback and discards a take still in flight.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stopPlayerLocked()
	if sm.session != nil && !sm.session.State().Terminal() {
		return sm.session.Discard()
	}
	return nil
}

func (sm *SessionManager) stopPlayerLocked() {
	if sm.player != nil {
		sm.player.Stop()
		sm.player = nil
	}
}

func (sm *SessionManager) checkAliasLocked(op, alias string) error {
	if sm.session == nil {
		return fmt.Errorf("app: %s %q: no take: %w", op, alias, recording.ErrWrongState)
	}
	if cur := sm.session.Line().Alias; cur != alias {
		return fmt.Errorf("app: %s %q: current take is %q: %w", op, alias, cur, recording.ErrWrongState)
	}
	return nil
}
