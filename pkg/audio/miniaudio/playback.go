package miniaudio

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/opusloop/pkg/audio"
)

var _ audio.PlaybackSink = (*Playback)(nil)

// Playback is an [audio.PlaybackSink] writing to the default output device.
type Playback struct {
	device
	underruns atomic.Uint64
}

// NewPlayback creates a playback device for g. The device is not acquired
// until Open.
func NewPlayback(mctx *Context, g audio.Geometry, opts ...Option) *Playback {
	return &Playback{device: newDevice(malgo.Playback, "playback", mctx, g, opts)}
}

// Open implements [audio.Device].
func (p *Playback) Open(_ context.Context) error {
	var f *feeder
	var feedQueue *frameQueue
	return p.open(func(out, _ []byte, _ uint32) {
		q := p.queue.Load()
		if q == nil {
			clear(out)
			return
		}
		if q != feedQueue {
			f = &feeder{underruns: &p.underruns}
			feedQueue = q
		}
		f.fill(out, q.frames)
	})
}

// Write implements [audio.PlaybackSink]. It blocks while the queue is full.
func (p *Playback) Write(ctx context.Context, frame []int16) error {
	if len(frame) != p.geom.FrameSamples {
		return fmt.Errorf("miniaudio: write: %w: frame has %d samples, want %d",
			audio.ErrConfig, len(frame), p.geom.FrameSamples)
	}
	q, err := p.session(ctx)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return audio.ErrNotStreaming
	case q.frames <- frame:
		return nil
	}
}

// Underruns returns how many callbacks had to be padded with silence.
func (p *Playback) Underruns() uint64 {
	return p.underruns.Load()
}
