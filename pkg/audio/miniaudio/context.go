// Package miniaudio implements the audio device contracts on top of
// miniaudio through [github.com/gen2brain/malgo].
//
// miniaudio drives devices from its own callback thread. [Capture] and
// [Playback] adapt that push model to the blocking Read/Write contract of
// [audio.CaptureSource] and [audio.PlaybackSink] with a bounded frame queue
// per streaming session:
//
//   - Capture assembles callback bytes into whole frames and offers them to
//     the queue without blocking; a full queue drops the frame.
//   - Playback drains whole frames from the queue into the callback buffer
//     and pads with silence when the queue runs dry.
//
// Both devices need a shared [Context], which owns the miniaudio backend.
package miniaudio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Context owns the miniaudio backend context shared by every device.
type Context struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// NewContext initialises the default miniaudio backend. Backend log lines are
// forwarded to logger at debug level; a nil logger uses [slog.Default].
func NewContext(logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w: %w", audio.ErrDevice, err)
	}
	return &Context{ctx: ctx}, nil
}

// backend returns the live malgo context or an error once Close was called.
func (c *Context) backend() (malgo.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		var zero malgo.Context
		return zero, fmt.Errorf("miniaudio: %w: context closed", audio.ErrDevice)
	}
	return c.ctx.Context, nil
}

// Close releases the backend. Devices must be closed first. Safe to call more
// than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.ctx.Uninit()
	c.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}
