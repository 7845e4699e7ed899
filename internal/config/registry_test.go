package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/opusloop/internal/config"
	"github.com/MrWong99/opusloop/pkg/audio"
	audiomock "github.com/MrWong99/opusloop/pkg/audio/mock"
)

func mockFactory(calls *int) config.DeviceFactory {
	return func(_ config.AudioConfig, g audio.Geometry) (config.Devices, error) {
		*calls++
		if g.FrameSamples != 480 {
			return config.Devices{}, errors.New("unexpected geometry")
		}
		return config.Devices{
			Capture:  &audiomock.CaptureSource{},
			Playback: &audiomock.PlaybackSink{},
		}, nil
	}
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()
	var calls int
	r := config.NewRegistry()
	r.Register(config.DeviceSynth, mockFactory(&calls))

	d, err := r.Create(config.Default().Audio)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Capture == nil || d.Playback == nil {
		t.Fatal("Create returned nil devices")
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.Create(config.Default().Audio)
	if !errors.Is(err, config.ErrDeviceNotRegistered) {
		t.Fatalf("Create = %v, want ErrDeviceNotRegistered", err)
	}
}

func TestRegistry_InvalidGeometry(t *testing.T) {
	t.Parallel()
	var calls int
	r := config.NewRegistry()
	r.Register(config.DeviceSynth, mockFactory(&calls))

	cfg := config.Default().Audio
	cfg.Channels = 2
	if _, err := r.Create(cfg); !errors.Is(err, audio.ErrConfig) {
		t.Fatalf("Create = %v, want ErrConfig", err)
	}
	if calls != 0 {
		t.Error("factory called with invalid geometry")
	}
}

func TestRegistry_NilDevice(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.Register("broken", func(config.AudioConfig, audio.Geometry) (config.Devices, error) {
		return config.Devices{Capture: &audiomock.CaptureSource{}}, nil
	})
	cfg := config.Default().Audio
	cfg.Device = "broken"
	if _, err := r.Create(cfg); !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("Create = %v, want ErrDevice", err)
	}
}

func TestRegistry_OverwriteAndNames(t *testing.T) {
	t.Parallel()
	var first, second int
	r := config.NewRegistry()
	r.Register(config.DeviceSynth, mockFactory(&first))
	r.Register(config.DeviceSynth, mockFactory(&second))
	r.Register(config.DeviceMiniaudio, mockFactory(new(int)))

	if _, err := r.Create(config.Default().Audio); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("calls first=%d second=%d, want 0 and 1", first, second)
	}
	if got := r.Names(); !slices.Equal(got, []string{"miniaudio", "synth"}) {
		t.Errorf("Names = %v", got)
	}
}
