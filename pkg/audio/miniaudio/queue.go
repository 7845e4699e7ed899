package miniaudio

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// frameQueue carries whole frames between a device data callback and the
// blocking Read/Write side. A fresh queue is created for every streaming
// session; closing done releases every waiter and discards buffered frames.
type frameQueue struct {
	frames    chan []int16
	done      chan struct{}
	closeOnce sync.Once
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{
		frames: make(chan []int16, max(capacity, 1)),
		done:   make(chan struct{}),
	}
}

func (q *frameQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// ── Capture side ─────────────────────────────────────────────────────────────

// assembler cuts the little-endian S16 byte stream delivered by the capture
// callback into frames of exactly frameSamples samples. It is only touched
// from the callback thread.
type assembler struct {
	frameSamples int
	pending      []int16
	dropped      *atomic.Uint64
}

func newAssembler(frameSamples int, dropped *atomic.Uint64) *assembler {
	return &assembler{
		frameSamples: frameSamples,
		pending:      make([]int16, 0, frameSamples),
		dropped:      dropped,
	}
}

// push appends in to the pending frame and offers each completed frame to
// out without blocking. A full queue drops the frame: the callback thread
// must never wait on the consumer.
func (a *assembler) push(in []byte, out chan<- []int16) {
	for len(in) >= audio.BytesPerSample {
		room := a.frameSamples - len(a.pending)
		n := min(room, len(in)/audio.BytesPerSample)
		a.pending = append(a.pending, audio.BytesToInt16s(in[:n*audio.BytesPerSample])...)
		in = in[n*audio.BytesPerSample:]

		if len(a.pending) < a.frameSamples {
			continue
		}
		frame := a.pending
		a.pending = make([]int16, 0, a.frameSamples)
		select {
		case out <- frame:
		default:
			a.dropped.Add(1)
		}
	}
}

// ── Playback side ────────────────────────────────────────────────────────────

// feeder fills the playback callback's output buffer from queued frames,
// splitting frames across callbacks when the device period and frame size
// differ. It is only touched from the callback thread.
type feeder struct {
	current   []int16
	underruns *atomic.Uint64
}

// fill writes len(out) bytes of audio into out. When the queue runs dry the
// remainder is zeroed and counted as one underrun.
func (f *feeder) fill(out []byte, in <-chan []int16) {
	for len(out) >= audio.BytesPerSample {
		if len(f.current) == 0 {
			select {
			case next := <-in:
				f.current = next
			default:
				clear(out)
				f.underruns.Add(1)
				return
			}
			continue
		}
		n := audio.PutInt16s(out, f.current)
		f.current = f.current[n:]
		out = out[n*audio.BytesPerSample:]
	}
	clear(out)
}
