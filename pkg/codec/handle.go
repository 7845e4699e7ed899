package codec

import (
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// HandleState is the lifecycle stage of a codec handle.
type HandleState int32

const (
	// Uninitialized is the zero state: the handle has not been set up.
	Uninitialized HandleState = iota

	// Initialized means the handle may be used.
	Initialized

	// Released means the handle was freed and must not be used again.
	Released
)

// String returns the human-readable name of the state.
func (s HandleState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Handle tracks the uninitialized → initialized → released lifecycle of a
// codec instance. Embed it in encoder and decoder implementations. All
// methods are safe for concurrent use.
type Handle struct {
	state atomic.Int32
}

// MarkInitialized moves the handle to [Initialized]. It has no effect on a
// released handle.
func (h *Handle) MarkInitialized() {
	h.state.CompareAndSwap(int32(Uninitialized), int32(Initialized))
}

// MarkReleased moves the handle to [Released] and reports whether this call
// performed the transition.
func (h *Handle) MarkReleased() bool {
	for {
		cur := h.state.Load()
		if cur == int32(Released) {
			return false
		}
		if h.state.CompareAndSwap(cur, int32(Released)) {
			return true
		}
	}
}

// State returns the current lifecycle stage.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Usable reports whether the handle is [Initialized].
func (h *Handle) Usable() bool {
	return h.State() == Initialized
}

// Check returns an error wrapping [audio.ErrState] unless the handle is
// [Initialized]. op names the attempted operation in the message.
func (h *Handle) Check(op string) error {
	if s := h.State(); s != Initialized {
		return fmt.Errorf("codec: %s on %s handle: %w", op, s, audio.ErrState)
	}
	return nil
}
