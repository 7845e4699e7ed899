package audio

import (
	"fmt"
	"time"
)

// MaxEncodedBytes is the upper bound on the size of one encoded frame. An Opus
// packet carries at most 1275 bytes of payload plus its TOC byte per frame,
// and a packet holds at most three 20 ms sized frames.
const MaxEncodedBytes = 1276 * 3

// BytesPerSample is the width of one signed 16-bit PCM sample.
const BytesPerSample = 2

// Geometry is the immutable set of sizes every frame of a session obeys.
// Build it with [NewGeometry]; all other components only read it.
type Geometry struct {
	// SampleRate in Hz (e.g., 24000).
	SampleRate int

	// Channels is the channel count. Only mono (1) is supported.
	Channels int

	// FrameDurationMs is the duration of one frame in milliseconds.
	FrameDurationMs int

	// FrameSamples is the number of samples in one raw frame:
	// SampleRate * FrameDurationMs / 1000.
	FrameSamples int

	// MaxEncodedBytes bounds the length of any encoded frame.
	MaxEncodedBytes int
}

// NewGeometry derives the frame sizes for the given stream parameters.
// It fails with an error wrapping [ErrConfig] when any input is non-positive,
// when more than one channel is requested, or when the frame duration does
// not divide the sample rate into a whole number of samples.
func NewGeometry(sampleRate, channels, frameDurationMs int) (Geometry, error) {
	if sampleRate <= 0 {
		return Geometry{}, fmt.Errorf("%w: sample rate %d must be positive", ErrConfig, sampleRate)
	}
	if channels <= 0 {
		return Geometry{}, fmt.Errorf("%w: channel count %d must be positive", ErrConfig, channels)
	}
	if channels != 1 {
		return Geometry{}, fmt.Errorf("%w: channel count %d is unsupported; only mono is supported", ErrConfig, channels)
	}
	if frameDurationMs <= 0 {
		return Geometry{}, fmt.Errorf("%w: frame duration %dms must be positive", ErrConfig, frameDurationMs)
	}
	if (sampleRate*frameDurationMs)%1000 != 0 {
		return Geometry{}, fmt.Errorf("%w: %dms at %dHz is not a whole number of samples", ErrConfig, frameDurationMs, sampleRate)
	}
	return Geometry{
		SampleRate:      sampleRate,
		Channels:        channels,
		FrameDurationMs: frameDurationMs,
		FrameSamples:    sampleRate * frameDurationMs / 1000,
		MaxEncodedBytes: MaxEncodedBytes,
	}, nil
}

// Validate reports whether g is internally consistent, i.e. equal to what
// [NewGeometry] would derive from its stream parameters.
func (g Geometry) Validate() error {
	want, err := NewGeometry(g.SampleRate, g.Channels, g.FrameDurationMs)
	if err != nil {
		return err
	}
	if g != want {
		return fmt.Errorf("%w: geometry %v is inconsistent, expected %v", ErrConfig, g, want)
	}
	return nil
}

// FrameBytes returns the size of one raw frame in bytes of interleaved
// little-endian PCM.
func (g Geometry) FrameBytes() int {
	return g.FrameSamples * g.Channels * BytesPerSample
}

// FrameDuration returns the period of one frame.
func (g Geometry) FrameDuration() time.Duration {
	return time.Duration(g.FrameDurationMs) * time.Millisecond
}

// String returns a compact description such as "24000Hz mono 20ms/480".
func (g Geometry) String() string {
	ch := "mono"
	if g.Channels != 1 {
		ch = fmt.Sprintf("%dch", g.Channels)
	}
	return fmt.Sprintf("%dHz %s %dms/%d", g.SampleRate, ch, g.FrameDurationMs, g.FrameSamples)
}
