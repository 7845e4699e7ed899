// Package synth provides device-free implementations of the audio device
// contracts: a sine tone capture source and an in-memory playback sink. They
// let the pipeline run headless (CI, containers without sound cards) with the
// same framing and pacing as real hardware.
package synth

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureSource = (*ToneSource)(nil)
	_ audio.PlaybackSink  = (*MemorySink)(nil)
)

const (
	// DefaultFrequency is the tone pitch used when none is configured.
	DefaultFrequency = 440.0

	// DefaultAmplitude is the peak tone level as a fraction of full scale.
	DefaultAmplitude = 0.5
)

// ToneOption configures a [ToneSource].
type ToneOption func(*ToneSource)

// WithFrequency sets the tone pitch in Hz. Non-positive values are ignored.
func WithFrequency(hz float64) ToneOption {
	return func(s *ToneSource) {
		if hz > 0 {
			s.freq = hz
		}
	}
}

// WithAmplitude sets the peak level as a fraction of full scale, clamped to
// [0, 1].
func WithAmplitude(a float64) ToneOption {
	return func(s *ToneSource) {
		s.amplitude = min(max(a, 0), 1)
	}
}

// WithRealtime makes Read wait one frame period between frames so the source
// produces audio at the same rate a microphone would. Without it Read returns
// immediately.
func WithRealtime(enabled bool) ToneOption {
	return func(s *ToneSource) {
		s.realtime = enabled
	}
}

// ToneSource is an [audio.CaptureSource] that synthesises a continuous sine
// tone. Phase is carried across frames so consecutive frames join without
// discontinuities.
type ToneSource struct {
	sampleRate   int
	frameSamples int
	period       time.Duration
	freq       float64
	amplitude  float64
	realtime   bool

	mu        sync.Mutex
	open      bool
	streaming bool
	ticker    *time.Ticker
	stopped   chan struct{}
	sample    uint64 // index of the next sample to synthesise
}

// NewToneSource creates a tone source for the given geometry.
func NewToneSource(g audio.Geometry, opts ...ToneOption) *ToneSource {
	s := &ToneSource{
		sampleRate:   g.SampleRate,
		frameSamples: g.FrameSamples,
		period:       g.FrameDuration(),
		freq:         DefaultFrequency,
		amplitude:    DefaultAmplitude,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Device].
func (s *ToneSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleRate <= 0 {
		return fmt.Errorf("synth: open tone source: %w: sample rate %d", audio.ErrDevice, s.sampleRate)
	}
	s.open = true
	return nil
}

// StartStreaming implements [audio.Device].
func (s *ToneSource) StartStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("synth: start tone source: %w: device not open", audio.ErrDevice)
	}
	if s.streaming {
		return nil
	}
	s.streaming = true
	s.stopped = make(chan struct{})
	if s.realtime && s.period > 0 {
		s.ticker = time.NewTicker(s.period)
	}
	return nil
}

// StopStreaming implements [audio.Device].
func (s *ToneSource) StopStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *ToneSource) stopLocked() {
	if !s.streaming {
		return
	}
	s.streaming = false
	close(s.stopped)
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// IsStreaming implements [audio.Device].
func (s *ToneSource) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Close implements [audio.Device].
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.open = false
	return nil
}

// Read implements [audio.CaptureSource]. In realtime mode it blocks until the
// next frame period elapses. frameSamples must match the geometry the source
// was created with.
func (s *ToneSource) Read(ctx context.Context, frameSamples int) ([]int16, error) {
	if frameSamples != s.frameSamples {
		return nil, fmt.Errorf("synth: read: %w: %d samples requested, source frames are %d",
			audio.ErrConfig, frameSamples, s.frameSamples)
	}
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return nil, fmt.Errorf("synth: read: %w", audio.ErrNotStreaming)
	}
	stopped := s.stopped
	var tick <-chan time.Time
	if s.ticker != nil {
		tick = s.ticker.C
	}
	s.mu.Unlock()

	if tick != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stopped:
			return nil, fmt.Errorf("synth: read: %w", audio.ErrNotStreaming)
		case <-tick:
		}
	}

	s.mu.Lock()
	start := s.sample
	s.sample += uint64(frameSamples)
	s.mu.Unlock()

	return Tone(s.sampleRate, s.freq, s.amplitude, start, frameSamples), nil
}

// Tone synthesises n samples of a sine wave starting at sample index start.
func Tone(sampleRate int, freq, amplitude float64, start uint64, n int) []int16 {
	out := make([]int16, n)
	if sampleRate <= 0 {
		return out
	}
	peak := amplitude * math.MaxInt16
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = int16(peak * math.Sin(step*float64(start+uint64(i))))
	}
	return out
}

// ─── MemorySink ───────────────────────────────────────────────────────────────

// MemorySink is an [audio.PlaybackSink] that keeps the most recent frames in
// memory. It never blocks.
type MemorySink struct {
	limit int

	mu        sync.Mutex
	open      bool
	streaming bool
	frames    [][]int16
	total     int
}

// NewMemorySink creates a sink that retains at most limit frames (oldest are
// discarded first). A limit of zero or less keeps every frame.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Open implements [audio.Device].
func (s *MemorySink) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

// StartStreaming implements [audio.Device].
func (s *MemorySink) StartStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("synth: start memory sink: %w: device not open", audio.ErrDevice)
	}
	s.streaming = true
	return nil
}

// StopStreaming implements [audio.Device].
func (s *MemorySink) StopStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	return nil
}

// IsStreaming implements [audio.Device].
func (s *MemorySink) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Close implements [audio.Device].
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	s.open = false
	return nil
}

// Write implements [audio.PlaybackSink].
func (s *MemorySink) Write(_ context.Context, frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return fmt.Errorf("synth: write: %w", audio.ErrNotStreaming)
	}
	s.frames = append(s.frames, frame)
	if s.limit > 0 && len(s.frames) > s.limit {
		s.frames = s.frames[len(s.frames)-s.limit:]
	}
	s.total++
	return nil
}

// Frames returns a snapshot of the retained frames, oldest first.
func (s *MemorySink) Frames() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.frames))
	copy(out, s.frames)
	return out
}

// Total returns how many frames were written since creation, including
// discarded ones.
func (s *MemorySink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
