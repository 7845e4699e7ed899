// Package resilience restarts pipeline sessions that end in a device or
// codec fault.
//
// A [Restarter] waits for failure notifications and calls its start
// function again with exponential backoff. A [Breaker] can be placed in
// front of the start function so that a device which keeps failing is left
// alone for a while instead of being reopened in a tight cycle.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] and [Breaker.Allow] while
// the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the state name.
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

// BreakerConfig tunes a [Breaker]. Zero values take the defaults noted on
// each field.
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls allowed while half-open, and
	// the number of successes needed to close again. Default: 3.
	HalfOpenMax int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
	trialOK  int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          cfg.Logger.With("breaker", cfg.Name),
	}
}

// Execute calls fn unless the breaker is open or out of half-open trials, in
// which case it returns [ErrCircuitOpen] without calling fn. fn's error is
// returned unchanged and recorded.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// Allow reports whether a call may proceed, returning [ErrCircuitOpen] when
// it may not. A call admitted while half-open uses one trial. Pair every nil
// return with exactly one [Breaker.Record] once the outcome is known, which
// may be long after the call itself returned.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trials, b.trialOK = 0, 0
		b.log.Info("circuit breaker half-open")
	case StateHalfOpen:
		if b.trials >= b.halfOpenMax {
			return ErrCircuitOpen
		}
	}
	if b.state == StateHalfOpen {
		b.trials++
	}
	return nil
}

// Record counts the outcome of an admitted call: nil is a success, anything
// else a failure.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			b.trialOK++
			if b.trialOK >= b.halfOpenMax {
				b.state = StateClosed
				b.failures, b.trials, b.trialOK = 0, 0, 0
				b.log.Info("circuit breaker closed")
			}
		}
		return
	}

	b.openedAt = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.failures = b.maxFailures
		b.log.Warn("circuit breaker reopened by failed trial", "err", err)
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.log.Warn("circuit breaker opened", "consecutive_failures", b.failures, "err", err)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Allow].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.trials, b.trialOK = 0, 0, 0
	b.log.Info("circuit breaker reset")
}
