// Package mock provides in-memory mock implementations of the
// [audio.CaptureSource] and [audio.PlaybackSink] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan []int16, 5)
//	src := &mock.CaptureSource{Frames: frames}
//	sink := &mock.PlaybackSink{}
//	// ... run the pipeline ...
//	if got := len(sink.Writes()); got != 5 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureSource = (*CaptureSource)(nil)
	_ audio.PlaybackSink  = (*PlaybackSink)(nil)
)

// ─── Device lifecycle ─────────────────────────────────────────────────────────

// device holds the lifecycle bookkeeping shared by both mocks.
type device struct {
	mu sync.Mutex

	open      bool
	streaming bool
	stopped   chan struct{} // closed when streaming stops

	// OpenError is returned by Open.
	OpenError error

	// StartError is returned by StartStreaming.
	StartError error

	// StopError is returned by StopStreaming.
	StopError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountStart records how many times StartStreaming was called.
	CallCountStart int

	// CallCountStop records how many times StopStreaming was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Open implements [audio.Device]. Returns OpenError.
func (d *device) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return d.OpenError
	}
	d.open = true
	return nil
}

// StartStreaming implements [audio.Device]. Returns StartError.
func (d *device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	if !d.streaming {
		d.streaming = true
		d.stopped = make(chan struct{})
	}
	return nil
}

// StopStreaming implements [audio.Device]. Returns StopError.
func (d *device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.stopLocked()
	return d.StopError
}

func (d *device) stopLocked() {
	if d.streaming {
		close(d.stopped)
	}
	d.streaming = false
	d.stopped = nil
}

// IsStreaming implements [audio.Device].
func (d *device) IsStreaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (d *device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close implements [audio.Device].
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.open = false
	d.stopLocked()
	return nil
}

// Calls returns a snapshot of the lifecycle call counters as
// (open, start, stop, close).
func (d *device) Calls() (open, start, stop, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen, d.CallCountStart, d.CallCountStop, d.CallCountClose
}

// ─── CaptureSource ────────────────────────────────────────────────────────────

// CaptureSource is a mock implementation of [audio.CaptureSource].
//
// Read delivers frames from the Frames channel while the source is
// streaming. When Frames is nil, closed or drained, Read blocks until ctx is
// cancelled or streaming stops, modelling a device that has nothing more to
// deliver. Read returns [audio.ErrNotStreaming] when the source is not
// streaming. ReadFunc, when set, replaces that behaviour entirely.
type CaptureSource struct {
	device

	// Frames feeds Read. Frames are returned as-is.
	Frames <-chan []int16

	// ReadFunc overrides Read when non-nil.
	ReadFunc func(ctx context.Context, frameSamples int) ([]int16, error)

	// ReadSizes records the frameSamples argument of every Read call.
	ReadSizes []int
}

// Read implements [audio.CaptureSource].
func (c *CaptureSource) Read(ctx context.Context, frameSamples int) ([]int16, error) {
	c.mu.Lock()
	c.ReadSizes = append(c.ReadSizes, frameSamples)
	fn := c.ReadFunc
	frames := c.Frames
	stopped := c.stopped
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, frameSamples)
	}
	if stopped == nil {
		return nil, audio.ErrNotStreaming
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stopped:
		return nil, audio.ErrNotStreaming
	case f, ok := <-frames:
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-stopped:
				return nil, audio.ErrNotStreaming
			}
		}
		return f, nil
	}
}

// CallCountRead returns how many times Read was called.
func (c *CaptureSource) CallCountRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ReadSizes)
}

// ─── PlaybackSink ─────────────────────────────────────────────────────────────

// PlaybackSink is a mock implementation of [audio.PlaybackSink]. Every frame
// passed to Write is recorded in order.
type PlaybackSink struct {
	device

	// WriteError is returned by Write. The frame is still recorded.
	WriteError error

	// OnWrite, when set, is called after each recorded Write with the number
	// of frames written so far.
	OnWrite func(n int)

	writes [][]int16
}

// Write implements [audio.PlaybackSink].
func (s *PlaybackSink) Write(_ context.Context, frame []int16) error {
	s.mu.Lock()
	s.writes = append(s.writes, frame)
	n := len(s.writes)
	cb := s.OnWrite
	err := s.WriteError
	s.mu.Unlock()

	if cb != nil {
		cb(n)
	}
	return err
}

// Writes returns a snapshot of every frame written so far, in order.
func (s *PlaybackSink) Writes() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.writes))
	copy(out, s.writes)
	return out
}
