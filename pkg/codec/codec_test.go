package codec_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/codec"
)

func geometry(t *testing.T) audio.Geometry {
	t.Helper()
	g, err := audio.NewGeometry(24000, 1, 20)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	return g
}

func TestCopyPacket_RightSizedCopy(t *testing.T) {
	t.Parallel()
	g := geometry(t)
	scratch := make([]byte, g.MaxEncodedBytes)
	copy(scratch, []byte{1, 2, 3})

	pkt, err := codec.CopyPacket(g, scratch[:3])
	if err != nil {
		t.Fatalf("CopyPacket: %v", err)
	}
	if len(pkt) != 3 || cap(pkt) != 3 {
		t.Fatalf("len/cap = %d/%d, want 3/3", len(pkt), cap(pkt))
	}

	// Reusing the scratch buffer must not corrupt the packet.
	scratch[0] = 99
	if pkt[0] != 1 {
		t.Fatalf("packet aliases scratch buffer: pkt[0] = %d", pkt[0])
	}
}

func TestCopyPacket_RejectsImplausibleLengths(t *testing.T) {
	t.Parallel()
	g := geometry(t)
	if _, err := codec.CopyPacket(g, nil); !errors.Is(err, audio.ErrCodec) {
		t.Errorf("empty: err = %v, want ErrCodec", err)
	}
	if _, err := codec.CopyPacket(g, make([]byte, g.MaxEncodedBytes+1)); !errors.Is(err, audio.ErrCodec) {
		t.Errorf("oversize: err = %v, want ErrCodec", err)
	}
	if _, err := codec.CopyPacket(g, make([]byte, g.MaxEncodedBytes)); err != nil {
		t.Errorf("max size: err = %v, want nil", err)
	}
}

func TestCheckInputOutput(t *testing.T) {
	t.Parallel()
	g := geometry(t)
	if err := codec.CheckInput(g, make([]int16, 480)); err != nil {
		t.Errorf("CheckInput(480) = %v", err)
	}
	if err := codec.CheckInput(g, make([]int16, 479)); !errors.Is(err, audio.ErrCodec) {
		t.Errorf("CheckInput(479) = %v, want ErrCodec", err)
	}
	if err := codec.CheckOutput(g, make([]int16, 240)); !errors.Is(err, audio.ErrCodec) {
		t.Errorf("CheckOutput(240) = %v, want ErrCodec", err)
	}
	if err := codec.CheckPacket(g, codec.Packet{}); !errors.Is(err, audio.ErrCodec) {
		t.Errorf("CheckPacket(empty) = %v, want ErrCodec", err)
	}
}

func TestHandle_Lifecycle(t *testing.T) {
	t.Parallel()
	var h codec.Handle

	if h.State() != codec.Uninitialized {
		t.Fatalf("zero state = %v, want uninitialized", h.State())
	}
	if err := h.Check("encode"); !errors.Is(err, audio.ErrState) {
		t.Fatalf("Check on uninitialized = %v, want ErrState", err)
	}

	h.MarkInitialized()
	if err := h.Check("encode"); err != nil {
		t.Fatalf("Check on initialized = %v", err)
	}

	if !h.MarkReleased() {
		t.Fatal("first MarkReleased should report the transition")
	}
	if h.MarkReleased() {
		t.Fatal("second MarkReleased should be a no-op")
	}
	h.MarkInitialized()
	if h.State() != codec.Released {
		t.Fatalf("state after re-init attempt = %v, want released", h.State())
	}
	if err := h.Check("decode"); !errors.Is(err, audio.ErrState) {
		t.Fatalf("Check on released = %v, want ErrState", err)
	}
}

func TestHandle_Usable(t *testing.T) {
	t.Parallel()
	var h codec.Handle

	if h.Usable() {
		t.Error("uninitialized handle reported usable")
	}
	h.MarkInitialized()
	if !h.Usable() {
		t.Error("initialized handle reported unusable")
	}
	h.MarkReleased()
	if h.Usable() {
		t.Error("released handle reported usable")
	}
}

func TestHandle_ConcurrentRelease(t *testing.T) {
	t.Parallel()
	var h codec.Handle
	h.MarkInitialized()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.MarkReleased() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if transitions != 1 {
		t.Fatalf("transitions = %d, want exactly 1", transitions)
	}
}

func TestHandleState_String(t *testing.T) {
	t.Parallel()
	cases := map[codec.HandleState]string{
		codec.Uninitialized:  "uninitialized",
		codec.Initialized:    "initialized",
		codec.Released:       "released",
		codec.HandleState(9): "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
