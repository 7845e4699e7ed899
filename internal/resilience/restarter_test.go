package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runRestarter(t *testing.T, r *Restarter) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRestarter_RequiresStart(t *testing.T) {
	if _, err := NewRestarter(RestarterConfig{}); err == nil {
		t.Fatal("expected error without Start")
	}
}

func TestNewRestarter_Defaults(t *testing.T) {
	r, err := NewRestarter(RestarterConfig{
		Start:      func(context.Context) error { return nil },
		Backoff:    time.Second,
		MaxBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	if r.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", r.maxRetries, defaultMaxRetries)
	}
	if r.maxBackoff != time.Second {
		t.Errorf("maxBackoff = %v, want it raised to the backoff", r.maxBackoff)
	}
}

func TestRestarter_RestartsAfterFailure(t *testing.T) {
	var starts atomic.Int32
	r, err := NewRestarter(RestarterConfig{
		Start:   func(context.Context) error { starts.Add(1); return nil },
		Backoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "restart", func() bool { return r.Restarts() == 1 })
	if starts.Load() != 1 {
		t.Errorf("starts = %d, want 1", starts.Load())
	}
}

func TestRestarter_RetriesWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var at []time.Time
	var attempts []int
	r, err := NewRestarter(RestarterConfig{
		Start: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			at = append(at, time.Now())
			if len(at) < 3 {
				return errTest
			}
			return nil
		},
		Backoff:    10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		OnAttempt: func(n int, _ error) {
			mu.Lock()
			attempts = append(attempts, n)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "restart", func() bool { return r.Restarts() == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Fatalf("attempts = %v, want [1 2 3]", attempts)
	}
	if gap := at[2].Sub(at[1]); gap < 20*time.Millisecond {
		t.Errorf("second backoff = %v, want >= 20ms", gap)
	}
}

func TestRestarter_GivesUpAfterMaxRetries(t *testing.T) {
	var starts atomic.Int32
	r, err := NewRestarter(RestarterConfig{
		Start:      func(context.Context) error { starts.Add(1); return errTest },
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "three attempts", func() bool { return starts.Load() == 3 })
	time.Sleep(20 * time.Millisecond)
	if got := starts.Load(); got != 3 {
		t.Errorf("starts = %d, want 3", got)
	}
	if r.Restarts() != 0 {
		t.Errorf("Restarts = %d, want 0", r.Restarts())
	}
}

func TestRestarter_OpenBreakerAbandonsCycle(t *testing.T) {
	var starts atomic.Int32
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	var rejected atomic.Bool
	r, err := NewRestarter(RestarterConfig{
		Start:      func(context.Context) error { starts.Add(1); return errTest },
		Breaker:    b,
		MaxRetries: 10,
		Backoff:    time.Millisecond,
		OnAttempt: func(_ int, err error) {
			if errors.Is(err, ErrCircuitOpen) {
				rejected.Store(true)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "breaker rejection", rejected.Load)
	if got := starts.Load(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}
}

func TestRestarter_StopsOnCancel(t *testing.T) {
	var starts atomic.Int32
	r, err := NewRestarter(RestarterConfig{
		Start:   func(context.Context) error { starts.Add(1); return nil },
		Backoff: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	cancel := runRestarter(t, r)

	r.NotifyFailure()
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	if starts.Load() != 0 {
		t.Errorf("starts = %d, want 0", starts.Load())
	}
}

func TestRestarter_NotifyFailureNeverBlocks(t *testing.T) {
	r, err := NewRestarter(RestarterConfig{Start: func(context.Context) error { return nil }})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	for range 10 {
		r.NotifyFailure()
	}
}

// dyingSession simulates a device that accepts Start but fails again right
// away: every successful Start reports a new failure.
func dyingSession(r **Restarter, starts *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		starts.Add(1)
		go (*r).NotifyFailure()
		return nil
	}
}

func TestRestarter_EarlyFailuresShareOneBudget(t *testing.T) {
	var starts atomic.Int32
	var r *Restarter
	var err error
	r, err = NewRestarter(RestarterConfig{
		Start:      dyingSession(&r, &starts),
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		StableFor:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "three restarts", func() bool { return starts.Load() == 3 })
	time.Sleep(50 * time.Millisecond)
	if got := starts.Load(); got != 3 {
		t.Fatalf("starts = %d, want budget of 3 across early failures", got)
	}
}

func TestRestarter_StableSessionRenewsBudget(t *testing.T) {
	var starts atomic.Int32
	r, err := NewRestarter(RestarterConfig{
		Start:      func(context.Context) error { starts.Add(1); return nil },
		MaxRetries: 1,
		Backoff:    time.Millisecond,
		StableFor:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	for i := int32(1); i <= 3; i++ {
		r.NotifyFailure()
		waitUntil(t, "restart", func() bool { return starts.Load() == i })
		time.Sleep(20 * time.Millisecond)
	}
	if r.Restarts() != 3 {
		t.Errorf("Restarts = %d, want 3", r.Restarts())
	}
}

func TestRestarter_EarlyFailuresOpenBreaker(t *testing.T) {
	var starts atomic.Int32
	var rejected atomic.Bool
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	var r *Restarter
	var err error
	r, err = NewRestarter(RestarterConfig{
		Start:      dyingSession(&r, &starts),
		Breaker:    b,
		MaxRetries: 10,
		Backoff:    time.Millisecond,
		MaxBackoff: time.Millisecond,
		StableFor:  time.Hour,
		OnAttempt: func(_ int, err error) {
			if errors.Is(err, ErrCircuitOpen) {
				rejected.Store(true)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewRestarter: %v", err)
	}
	runRestarter(t, r)

	r.NotifyFailure()
	waitUntil(t, "breaker rejection", rejected.Load)
	if got := starts.Load(); got != 2 {
		t.Errorf("starts = %d, want 2 before the breaker opened", got)
	}
	if b.State() != StateOpen {
		t.Errorf("breaker = %v, want open", b.State())
	}
}
