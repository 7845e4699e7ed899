package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/opusloop/pkg/audio"
)

func TestInt16sToBytes_LittleEndian(t *testing.T) {
	b := audio.Int16sToBytes([]int16{1, -2, 0x1234})
	if len(b) != 6 {
		t.Fatalf("len = %d, want 6", len(b))
	}
	if got := int16(binary.LittleEndian.Uint16(b[2:])); got != -2 {
		t.Errorf("sample 1 = %d, want -2", got)
	}
	if b[4] != 0x34 || b[5] != 0x12 {
		t.Errorf("sample 2 bytes = %#x %#x, want 0x34 0x12", b[4], b[5])
	}
}

func TestBytesToInt16s_RoundTrip(t *testing.T) {
	want := []int16{0, 32767, -32768, 100, -100}
	got := audio.BytesToInt16s(audio.Int16sToBytes(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBytesToInt16s_OddByteIgnored(t *testing.T) {
	got := audio.BytesToInt16s([]byte{1, 0, 7})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestPutInt16s_LimitedByDst(t *testing.T) {
	dst := make([]byte, 3)
	if n := audio.PutInt16s(dst, []int16{5, 6, 7}); n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	if dst[0] != 5 {
		t.Errorf("dst[0] = %d, want 5", dst[0])
	}
}

func TestSilence(t *testing.T) {
	s := audio.Silence(480)
	if len(s) != 480 {
		t.Fatalf("len = %d, want 480", len(s))
	}
	for i, v := range s {
		if v != 0 {
			t.Fatalf("sample %d = %d, want 0", i, v)
		}
	}
}
