// Package store holds the per-alias parameter records shared by the table
// view and the waveform editor. Every write goes through the marker
// validator; subscribers only ever see committed values.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/recording"
)

var (
	// ErrNotFound is returned when no record exists for an alias.
	ErrNotFound = errors.New("store: alias not found")

	// ErrNoEntry is returned by marker edits on a record whose take has not
	// been estimated yet.
	ErrNoEntry = errors.New("store: alias has no markers yet")
)

// Status describes where a record is in its lifecycle.
type Status string

const (
	// StatusPending means a take is stored and waiting for estimation.
	StatusPending Status = "pending"
	// StatusEstimated means the markers are the estimator's output.
	StatusEstimated Status = "estimated"
	// StatusEdited means at least one marker was changed by hand.
	StatusEdited Status = "edited"
	// StatusFailed means estimation failed for the current take.
	StatusFailed Status = "failed"
)

// Source identifies who asked for a marker change.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceTable  Source = "table"
	SourceCanvas Source = "canvas"
)

// Record is a snapshot of one alias.
type Record struct {
	Alias      string          `json:"alias"`
	Entry      oto.Entry       `json:"entry"`
	Status     Status          `json:"status"`
	Fallback   bool            `json:"fallback"`
	Duration   int64           `json:"duration"`
	SampleRate int             `json:"sample_rate"`
	WAVPath    string          `json:"wav_path,omitempty"`
	Error      string          `json:"error,omitempty"`
	Generation uint64          `json:"generation"`
	Take       *recording.Take `json:"-"`
}

// HasEntry reports whether the record carries valid markers.
func (r Record) HasEntry() bool {
	return r.Status == StatusEstimated || r.Status == StatusEdited
}

// EventKind says what happened to a record.
type EventKind string

const (
	EventCommitted   EventKind = "committed"
	EventRejected    EventKind = "rejected"
	EventInvalidated EventKind = "invalidated"
	EventFailed      EventKind = "failed"
)

// Event is delivered to subscribers after every store operation. Record is
// always the value the store holds after the operation.
type Event struct {
	Kind   EventKind `json:"kind"`
	Record Record    `json:"record"`
	Source Source    `json:"source,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Store is the single source of truth for parameter records. It is safe
// for concurrent use.
type Store struct {
	policy  atomic.Int32
	metrics *observe.Metrics

	mu      sync.RWMutex
	order   []string
	records map[string]*Record
	gen     uint64

	// pubMu is taken before mu is released so events leave in commit order.
	pubMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Option configures a [Store].
type Option func(*Store)

// WithPolicy sets the initial validation policy.
func WithPolicy(p oto.Policy) Option {
	return func(s *Store) { s.policy.Store(int32(p)) }
}

// WithMetrics records marker edits to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*Record),
		subs:    make(map[int]chan Event),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetPolicy changes the validation policy for later edits.
func (s *Store) SetPolicy(p oto.Policy) {
	s.policy.Store(int32(p))
}

// Policy returns the current validation policy.
func (s *Store) Policy() oto.Policy {
	return oto.Policy(s.policy.Load())
}

// Subscribe returns a channel receiving every later event and a function
// that ends the subscription. A subscriber that falls more than buffer
// events behind misses events; it should re-read [Store.List].
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	s.pubMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.pubMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.pubMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.pubMu.Unlock()
		})
	}
}

// commit runs fn under the write lock and publishes the event it returns.
// fn returning a zero Kind publishes nothing.
func (s *Store) commit(fn func() (Event, error)) (Event, error) {
	s.mu.Lock()
	ev, err := fn()
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	if ev.Kind == "" {
		return ev, err
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("store subscriber lagging, dropping event", "alias", ev.Record.Alias, "kind", ev.Kind)
		}
	}
	return ev, err
}

// Invalidate stores take as the new take for its alias. Any markers of the
// previous take are dropped. The returned generation identifies this take
// in the later [Store.Put].
func (s *Store) Invalidate(ctx context.Context, take *recording.Take, wavPath string) (uint64, error) {
	ev, _ := s.commit(func() (Event, error) {
		s.gen++
		alias := take.Alias()
		r, ok := s.records[alias]
		if !ok {
			r = &Record{Alias: alias}
			s.records[alias] = r
			s.order = append(s.order, alias)
		}
		*r = Record{
			Alias:      alias,
			Status:     StatusPending,
			Duration:   take.Frames(),
			SampleRate: take.SampleRate,
			WAVPath:    wavPath,
			Generation: s.gen,
			Take:       take,
		}
		return Event{Kind: EventInvalidated, Record: *r}, nil
	})
	observe.Logger(ctx).Debug("record invalidated", "alias", take.Alias(), "generation", ev.Record.Generation)
	return ev.Record.Generation, nil
}

// Put stores an estimator result for the take of the given generation. A
// result for a take that was replaced meanwhile is dropped and false is
// returned. The entry must satisfy [oto.Validate].
func (s *Store) Put(ctx context.Context, alias string, generation uint64, est oto.Estimate) (bool, error) {
	ev, err := s.commit(func() (Event, error) {
		r, ok := s.records[alias]
		if !ok {
			return Event{}, ErrNotFound
		}
		if r.Generation != generation {
			return Event{}, nil
		}
		if err := oto.Validate(est.Entry, r.Duration); err != nil {
			return Event{}, fmt.Errorf("store: put %q: %w", alias, err)
		}
		r.Entry = est.Entry
		r.Fallback = est.Fallback
		r.Status = StatusEstimated
		r.Error = ""
		return Event{Kind: EventCommitted, Record: *r, Source: SourceAuto}, nil
	})
	if err != nil {
		return false, err
	}
	if ev.Kind == "" {
		observe.Logger(ctx).Info("dropping stale estimate", "alias", alias, "generation", generation)
		return false, nil
	}
	s.metrics.RecordMarkerEdit(ctx, "all", string(SourceAuto), true)
	return true, nil
}

// Fail marks the take of the given generation as not estimable.
func (s *Store) Fail(ctx context.Context, alias string, generation uint64, cause error) error {
	_, err := s.commit(func() (Event, error) {
		r, ok := s.records[alias]
		if !ok {
			return Event{}, ErrNotFound
		}
		if r.Generation != generation {
			return Event{}, nil
		}
		r.Status = StatusFailed
		r.Error = cause.Error()
		return Event{Kind: EventFailed, Record: *r, Reason: cause.Error()}, nil
	})
	return err
}

// SetMarker routes one marker edit through the validator. The returned
// record is the committed state; accepted is false when the edit was
// rejected and the previous value kept. Rejections are published too so
// that every view snaps back. The only errors are [ErrNotFound] and
// [ErrNoEntry].
func (s *Store) SetMarker(ctx context.Context, alias string, m oto.Marker, value int64, src Source) (Record, bool, error) {
	policy := s.Policy()
	return s.edit(ctx, alias, m.String(), src, func(r *Record) (oto.Entry, error) {
		return oto.Apply(r.Entry, m, value, r.Duration, policy)
	})
}

// Drag moves offset, overlap, preutterance and consonant by delta samples
// as one validated edit.
func (s *Store) Drag(ctx context.Context, alias string, delta int64, src Source) (Record, bool, error) {
	return s.edit(ctx, alias, "root", src, func(r *Record) (oto.Entry, error) {
		return oto.MoveAll(r.Entry, delta, r.Duration)
	})
}

func (s *Store) edit(ctx context.Context, alias, marker string, src Source, apply func(*Record) (oto.Entry, error)) (Record, bool, error) {
	var rejection error
	ev, err := s.commit(func() (Event, error) {
		r, ok := s.records[alias]
		if !ok {
			return Event{}, ErrNotFound
		}
		if !r.HasEntry() {
			return Event{}, ErrNoEntry
		}
		next, verr := apply(r)
		if verr != nil {
			rejection = verr
			return Event{Kind: EventRejected, Record: *r, Source: src, Reason: verr.Error()}, nil
		}
		if next != r.Entry {
			r.Entry = next
			r.Status = StatusEdited
		}
		return Event{Kind: EventCommitted, Record: *r, Source: src}, nil
	})
	if err != nil {
		return Record{}, false, err
	}
	accepted := rejection == nil
	s.metrics.RecordMarkerEdit(ctx, marker, string(src), accepted)
	if !accepted {
		observe.Logger(ctx).Debug("marker edit rejected", "alias", alias, "marker", marker, "err", rejection)
	}
	return ev.Record, accepted, nil
}

// Get returns the record for alias.
func (s *Store) Get(_ context.Context, alias string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[alias]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

// List returns every record in insertion order.
func (s *Store) List(_ context.Context) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for _, alias := range s.order {
		out = append(out, *s.records[alias])
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
