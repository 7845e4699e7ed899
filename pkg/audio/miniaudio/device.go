package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Option configures a [Capture] or [Playback] device.
type Option func(*device)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithBufferFrames sets how many whole frames the queue between the device
// callback and Read/Write holds. Defaults to 4.
func WithBufferFrames(n int) Option {
	return func(d *device) {
		if n > 0 {
			d.bufferFrames = n
		}
	}
}

// WithPeriods sets the number of miniaudio periods in the device buffer.
// Defaults to 3.
func WithPeriods(n int) Option {
	return func(d *device) {
		if n > 0 {
			d.periods = uint32(n)
		}
	}
}

// device is the lifecycle shared by [Capture] and [Playback].
type device struct {
	kind         malgo.DeviceType
	name         string
	mctx         *Context
	geom         audio.Geometry
	log          *slog.Logger
	bufferFrames int
	periods      uint32

	mu  sync.Mutex
	dev *malgo.Device

	// queue is swapped on every StartStreaming and read by the callback.
	queue atomic.Pointer[frameQueue]
}

func newDevice(kind malgo.DeviceType, name string, mctx *Context, g audio.Geometry, opts []Option) device {
	d := device{
		kind:         kind,
		name:         name,
		mctx:         mctx,
		geom:         g,
		log:          slog.Default(),
		bufferFrames: 4,
		periods:      3,
	}
	for _, o := range opts {
		o(&d)
	}
	d.log = d.log.With("device", name)
	return d
}

// config builds the miniaudio device configuration. The device period is one
// frame so each callback normally carries exactly one frame.
func (d *device) config() malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(d.kind)
	cfg.SampleRate = uint32(d.geom.SampleRate)
	cfg.PeriodSizeInFrames = uint32(d.geom.FrameSamples)
	cfg.Periods = d.periods
	sub := malgo.SubConfig{Format: malgo.FormatS16, Channels: uint32(d.geom.Channels)}
	if d.kind == malgo.Capture {
		cfg.Capture = sub
	} else {
		cfg.Playback = sub
	}
	return cfg
}

func (d *device) open(data malgo.DataProc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return nil
	}
	if err := d.geom.Validate(); err != nil {
		return fmt.Errorf("miniaudio: open %s: %w", d.name, err)
	}
	backend, err := d.mctx.backend()
	if err != nil {
		return err
	}
	dev, err := malgo.InitDevice(backend, d.config(), malgo.DeviceCallbacks{Data: data})
	if err != nil {
		return fmt.Errorf("miniaudio: open %s: %w: %w", d.name, audio.ErrDevice, err)
	}
	d.dev = dev
	d.log.Info("device opened", "geometry", d.geom.String())
	return nil
}

// StartStreaming implements [audio.Device].
func (d *device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return fmt.Errorf("miniaudio: start %s: %w: device not open", d.name, audio.ErrDevice)
	}
	if d.dev.IsStarted() {
		return nil
	}
	q := newFrameQueue(d.bufferFrames)
	d.queue.Store(q)
	if err := d.dev.Start(); err != nil {
		d.queue.Store(nil)
		q.close()
		return fmt.Errorf("miniaudio: start %s: %w: %w", d.name, audio.ErrDevice, err)
	}
	return nil
}

// StopStreaming implements [audio.Device].
func (d *device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *device) stopLocked() error {
	if q := d.queue.Swap(nil); q != nil {
		q.close()
	}
	if d.dev == nil || !d.dev.IsStarted() {
		return nil
	}
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop %s: %w: %w", d.name, audio.ErrDevice, err)
	}
	return nil
}

// IsStreaming implements [audio.Device].
func (d *device) IsStreaming() bool {
	return d.queue.Load() != nil
}

// Close implements [audio.Device].
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.stopLocked()
	d.dev.Uninit()
	d.dev = nil
	d.log.Info("device closed")
	return err
}

// session returns the current queue or [audio.ErrNotStreaming].
func (d *device) session(ctx context.Context) (*frameQueue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := d.queue.Load()
	if q == nil {
		return nil, audio.ErrNotStreaming
	}
	return q, nil
}
