package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// Built-in device backend names.
const (
	DeviceSynth     = "synth"
	DeviceMiniaudio = "miniaudio"
)

// KnownDevices lists the backend names shipped with opusloop. Used by
// [Validate] to warn about unrecognised names.
var KnownDevices = []string{DeviceSynth, DeviceMiniaudio}

// ErrDeviceNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrDeviceNotRegistered = errors.New("config: device backend not registered")

// Devices is a capture/playback pair produced by a backend factory.
type Devices struct {
	Capture  audio.CaptureSource
	Playback audio.PlaybackSink

	// Close releases backend resources shared by both devices. It runs after
	// the devices themselves are closed. May be nil.
	Close func() error
}

// DeviceFactory builds the devices for one backend from the audio settings
// and the derived frame geometry.
type DeviceFactory func(cfg AudioConfig, g audio.Geometry) (Devices, error)

// Registry maps device backend names to their factories. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceFactory)}
}

// Register registers a device backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create builds the devices for cfg.Device using the registered factory.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) Create(cfg AudioConfig) (Devices, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return Devices{}, fmt.Errorf("%w: %q", ErrDeviceNotRegistered, cfg.Device)
	}
	g, err := cfg.Geometry()
	if err != nil {
		return Devices{}, fmt.Errorf("config: create devices: %w", err)
	}
	d, err := factory(cfg, g)
	if err != nil {
		return Devices{}, fmt.Errorf("config: create %s devices: %w", cfg.Device, err)
	}
	if d.Capture == nil || d.Playback == nil {
		return Devices{}, fmt.Errorf("config: create %s devices: %w: factory returned a nil device", cfg.Device, audio.ErrDevice)
	}
	return d, nil
}
