package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Default restart parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	defaultStableFor  = 10 * time.Second
)

// errDiedEarly is recorded on the breaker for a restarted session that failed
// before it was considered stable.
var errDiedEarly = errors.New("resilience: restarted session failed before it became stable")

// RestarterConfig configures a [Restarter].
type RestarterConfig struct {
	// Start restarts the failed session. Required.
	Start func(ctx context.Context) error

	// Breaker, when set, guards every Start call. A failed Start and a
	// restarted session that fails before StableFor both count as breaker
	// failures. An open breaker abandons the current restart cycle.
	Breaker *Breaker

	// MaxRetries is the number of restart attempts allowed per failure
	// episode. Default: 5.
	MaxRetries int

	// StableFor is how long a restarted session must stay up before its
	// restart counts as a success. A failure reported sooner continues the
	// same episode: it uses up one more attempt and the backoff keeps
	// growing. Default: 10s.
	StableFor time.Duration

	// Backoff is the wait before the first attempt. It doubles after every
	// failed attempt up to MaxBackoff. Defaults: 500ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnAttempt is called after every Start attempt with its 1-based number
	// and result. May be nil.
	OnAttempt func(attempt int, err error)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Restarter restarts a session after [Restarter.NotifyFailure]. Failures
// reported while a restart cycle is already pending are coalesced.
type Restarter struct {
	start      func(context.Context) error
	breaker    *Breaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	stableFor  time.Duration
	onAttempt  func(int, error)
	log        *slog.Logger

	failures chan struct{}
	restarts atomic.Int64

	// Episode state, owned by the Run goroutine.
	used        int
	wait        time.Duration
	restartedAt time.Time
}

// NewRestarter validates cfg and returns an idle [Restarter]. Call
// [Restarter.Run] to start serving failure notifications.
func NewRestarter(cfg RestarterConfig) (*Restarter, error) {
	if cfg.Start == nil {
		return nil, errors.New("resilience: restarter: start function is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.StableFor <= 0 {
		cfg.StableFor = defaultStableFor
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Restarter{
		start:      cfg.Start,
		breaker:    cfg.Breaker,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		stableFor:  cfg.StableFor,
		onAttempt:  cfg.OnAttempt,
		log:        cfg.Logger.With("component", "restarter"),
		failures:   make(chan struct{}, 1),
	}, nil
}

// NotifyFailure requests a restart. It never blocks.
func (r *Restarter) NotifyFailure() {
	select {
	case r.failures <- struct{}{}:
	default:
	}
}

// Restarts returns the number of restarts whose Start call succeeded.
func (r *Restarter) Restarts() int64 {
	return r.restarts.Load()
}

// Run serves failure notifications until ctx is cancelled. It always returns
// nil so it can run in an errgroup next to the other long-running tasks.
func (r *Restarter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.failures:
			r.restart(ctx)
		}
	}
}

// restart handles one failure notification. A failure soon after a
// restart continues the current episode; any other failure opens a new one
// with a full attempt budget.
func (r *Restarter) restart(ctx context.Context) {
	restarted := !r.restartedAt.IsZero()
	early := restarted && time.Since(r.restartedAt) < r.stableFor
	r.restartedAt = time.Time{}

	switch {
	case early:
		r.record(errDiedEarly)
		r.wait = min(r.wait*2, r.maxBackoff)
		r.log.Warn("restarted session failed before becoming stable",
			"attempts_used", r.used, "max_retries", r.maxRetries, "stable_for", r.stableFor)
	default:
		if restarted {
			r.record(nil)
		}
		r.used, r.wait = 0, r.backoff
	}

	for r.used < r.maxRetries {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.wait):
		}

		r.used++
		err := r.attempt(ctx)
		if r.onAttempt != nil {
			r.onAttempt(r.used, err)
		}
		if err == nil {
			r.restarts.Add(1)
			r.restartedAt = time.Now()
			r.log.Info("session restarted", "attempt", r.used)
			return
		}
		if errors.Is(err, ErrCircuitOpen) {
			r.log.Warn("restart abandoned, circuit breaker open", "attempt", r.used)
			return
		}
		r.log.Warn("restart attempt failed", "attempt", r.used, "max_retries", r.maxRetries, "err", err)

		r.wait = min(r.wait*2, r.maxBackoff)
	}
	r.log.Error("restart failed after max retries", "max_retries", r.maxRetries)
}

// attempt calls Start behind the breaker. A successful Start is not yet
// recorded; the next failure notification decides whether it held.
func (r *Restarter) attempt(ctx context.Context) error {
	if r.breaker == nil {
		return r.start(ctx)
	}
	if err := r.breaker.Allow(); err != nil {
		return err
	}
	err := r.start(ctx)
	if err != nil {
		r.breaker.Record(err)
	}
	return err
}

func (r *Restarter) record(err error) {
	if r.breaker != nil {
		r.breaker.Record(err)
	}
}
