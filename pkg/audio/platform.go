// Package audio defines the frame geometry, device contracts and error
// taxonomy shared by the opusloop pipeline.
//
// The two device abstractions are:
//
//   - [CaptureSource] produces fixed-length raw frames from an input device.
//   - [PlaybackSink] consumes fixed-length raw frames and emits them to an
//     output device.
//
// Both are blocking: callback-driven device APIs are adapted to this shape by
// the implementation packages (audio/miniaudio, audio/synth). A raw frame is a
// []int16 of exactly [Geometry.FrameSamples] mono samples; ownership of a frame
// passes to whoever receives it.
package audio

import "context"

// Device is the lifecycle shared by capture and playback devices.
//
// A device is opened once, may be started and stopped any number of times
// while open, and is closed once. Implementations must be safe for
// concurrent use.
type Device interface {
	// Open acquires the underlying device without starting it. Failures wrap
	// [ErrDevice]. Opening an already open device is a no-op.
	Open(ctx context.Context) error

	// StartStreaming begins moving audio. Calling it on a streaming device is
	// a no-op.
	StartStreaming() error

	// StopStreaming halts audio and releases any buffered frames. Calling it
	// on a stopped device is a no-op.
	StopStreaming() error

	// IsStreaming reports whether the device is currently streaming.
	IsStreaming() bool

	// Close stops streaming and releases the device. It is safe to call more
	// than once.
	Close() error
}

// CaptureSource produces raw frames from an input device.
type CaptureSource interface {
	Device

	// Read blocks until one frame of frameSamples samples is available and
	// returns it. The returned slice is freshly allocated. Read returns
	// [ErrNotStreaming] when the device is not streaming and ctx.Err() when
	// ctx is cancelled while waiting.
	Read(ctx context.Context, frameSamples int) ([]int16, error)
}

// PlaybackSink emits raw frames to an output device.
type PlaybackSink interface {
	Device

	// Write blocks until the device accepts or buffers frame. The sink takes
	// ownership of frame. Write returns [ErrNotStreaming] when the device is
	// not streaming and ctx.Err() when ctx is cancelled while waiting.
	Write(ctx context.Context, frame []int16) error
}
