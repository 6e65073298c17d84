// Package resilience guards audio device acquisition against transient and
// repeated failures.
//
// [Retry] performs the bounded, fixed-delay retry used when a device reports
// it is busy (typically because the previous stream has not yet released the
// hardware). [CircuitBreaker] sits in front of it so that a device that keeps
// failing is not re-acquired on every request: after a run of failures the
// breaker opens and callers fail fast until the reset timeout elapses.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state: all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. One
	// call is let through; its outcome closes or re-opens the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 10s.
	ResetTimeout time.Duration

	// IsFailure decides whether an error returned by the guarded function
	// counts towards opening the breaker. Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	isFailure    func(error) bool
	onChange     func(from, to State)
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probing         bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state exactly one
// probe call is permitted at a time.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var from State
	transitioned := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from, transitioned = cb.state, true
		cb.state = StateHalfOpen
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	probe := cb.state == StateHalfOpen
	cb.mu.Unlock()
	if transitioned {
		cb.notify(from, StateHalfOpen)
	}

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if cb.isFailure(err) {
		cb.recordFailure(probe)
	} else {
		cb.recordSuccess(probe)
	}
	after := cb.state
	cb.mu.Unlock()

	if before != after {
		cb.notify(before, after)
	}
	return err
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) {
	if probe {
		cb.probing = false
		cb.state = StateOpen
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if probe {
		cb.probing = false
		slog.Info("circuit breaker closed after successful probe", "name", cb.name)
	}
	cb.state = StateClosed
	cb.consecutiveFail = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all failure
// counters. Called after the user explicitly selects a different device.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probing = false
	cb.mu.Unlock()

	if from != StateClosed {
		slog.Info("circuit breaker reset", "name", cb.name)
		cb.notify(from, StateClosed)
	}
}
