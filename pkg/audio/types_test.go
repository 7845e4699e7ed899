package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/opusloop/pkg/audio"
)

func TestNewGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rate       int
		durationMs int
		want       int
	}{
		{"24k 20ms", 24000, 20, 480},
		{"48k 20ms", 48000, 20, 960},
		{"16k 10ms", 16000, 10, 160},
		{"8k 60ms", 8000, 60, 480},
		{"48k 5ms", 48000, 5, 240},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g, err := audio.NewGeometry(tc.rate, 1, tc.durationMs)
			if err != nil {
				t.Fatalf("NewGeometry: %v", err)
			}
			if g.FrameSamples != tc.want {
				t.Errorf("FrameSamples = %d, want %d", g.FrameSamples, tc.want)
			}
			if g.FrameSamples != tc.rate*tc.durationMs/1000 {
				t.Errorf("FrameSamples = %d, want rate*duration/1000", g.FrameSamples)
			}
			if g.MaxEncodedBytes != audio.MaxEncodedBytes {
				t.Errorf("MaxEncodedBytes = %d, want %d", g.MaxEncodedBytes, audio.MaxEncodedBytes)
			}
			if err := g.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestNewGeometry_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                 string
		rate, ch, durationMs int
	}{
		{"zero rate", 0, 1, 20},
		{"negative rate", -8000, 1, 20},
		{"zero channels", 24000, 0, 20},
		{"stereo", 24000, 2, 20},
		{"zero duration", 24000, 1, 0},
		{"negative duration", 24000, 1, -20},
		{"fractional samples", 44100, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.NewGeometry(tc.rate, tc.ch, tc.durationMs)
			if !errors.Is(err, audio.ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestGeometry_ValidateRejectsTampering(t *testing.T) {
	t.Parallel()

	g, err := audio.NewGeometry(24000, 1, 20)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	g.FrameSamples = 479
	if err := g.Validate(); !errors.Is(err, audio.ErrConfig) {
		t.Fatalf("Validate = %v, want ErrConfig", err)
	}

	var zero audio.Geometry
	if err := zero.Validate(); !errors.Is(err, audio.ErrConfig) {
		t.Fatalf("zero Validate = %v, want ErrConfig", err)
	}
}

func TestGeometry_Derived(t *testing.T) {
	t.Parallel()

	g, err := audio.NewGeometry(24000, 1, 20)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	if got := g.FrameBytes(); got != 960 {
		t.Errorf("FrameBytes = %d, want 960", got)
	}
	if got := g.FrameDuration(); got != 20*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 20ms", got)
	}
	if got := g.String(); got != "24000Hz mono 20ms/480" {
		t.Errorf("String = %q", got)
	}
}

func TestErrNotStreaming_IsDeviceError(t *testing.T) {
	t.Parallel()
	if !errors.Is(audio.ErrNotStreaming, audio.ErrDevice) {
		t.Fatal("ErrNotStreaming should wrap ErrDevice")
	}
}
