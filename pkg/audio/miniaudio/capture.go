package miniaudio

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/opusloop/pkg/audio"
)

var _ audio.CaptureSource = (*Capture)(nil)

// Capture is an [audio.CaptureSource] reading from the default input device.
type Capture struct {
	device
	dropped atomic.Uint64
}

// NewCapture creates a capture device for g. The device is not acquired until
// Open.
func NewCapture(mctx *Context, g audio.Geometry, opts ...Option) *Capture {
	return &Capture{device: newDevice(malgo.Capture, "capture", mctx, g, opts)}
}

// Open implements [audio.Device].
func (c *Capture) Open(_ context.Context) error {
	var asm *assembler
	var asmQueue *frameQueue
	return c.open(func(_, in []byte, _ uint32) {
		q := c.queue.Load()
		if q == nil {
			return
		}
		if q != asmQueue {
			// New session: partial frames from the previous one are discarded.
			asm = newAssembler(c.geom.FrameSamples, &c.dropped)
			asmQueue = q
		}
		asm.push(in, q.frames)
	})
}

// Read implements [audio.CaptureSource].
func (c *Capture) Read(ctx context.Context, frameSamples int) ([]int16, error) {
	if frameSamples != c.geom.FrameSamples {
		return nil, fmt.Errorf("miniaudio: read: %w: %d samples requested, device frames are %d",
			audio.ErrConfig, frameSamples, c.geom.FrameSamples)
	}
	q, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, audio.ErrNotStreaming
	case f := <-q.frames:
		return f, nil
	}
}

// Dropped returns how many captured frames were discarded because the reader
// fell behind.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}
