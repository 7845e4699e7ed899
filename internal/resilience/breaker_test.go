package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("device unplugged")

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_ReturnsFnError(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if err := b.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want %v", err, errTest)
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	for range 3 {
		_ = b.Execute(func() error { return errTest })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn called while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTrialsClose(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	time.Sleep(15 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
	for i := range 2 {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 3})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("trial err = %v, want %v", err, errTest)
	}
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open", s)
	}
}

func TestBreaker_HalfOpenTrialBudget(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})

	_ = b.Execute(func() error { return errTest })
	time.Sleep(15 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error { <-release; return nil })
	}()

	// Wait until the first trial is admitted.
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		p := b.trials
		b.mu.Unlock()
		if p == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trial never admitted")
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	b.Reset()

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
