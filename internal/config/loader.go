package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/opusloop/pkg/codec/opus"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if _, err := cfg.Audio.Geometry(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.Device == "" {
		errs = append(errs, errors.New("audio.device is required"))
	} else {
		validateDeviceName(cfg.Audio.Device)
	}
	if cfg.Audio.ToneHz < 0 {
		errs = append(errs, fmt.Errorf("audio.tone_hz %.1f must not be negative", cfg.Audio.ToneHz))
	}
	if nyquist := float64(cfg.Audio.SampleRate) / 2; cfg.Audio.SampleRate > 0 && cfg.Audio.ToneHz >= nyquist {
		errs = append(errs, fmt.Errorf("audio.tone_hz %.1f must be below half the sample rate (%.1f)", cfg.Audio.ToneHz, nyquist))
	}
	if cfg.Audio.CaptureBufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_buffer_frames %d must not be negative", cfg.Audio.CaptureBufferFrames))
	}
	if cfg.Audio.PlaybackBufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_buffer_frames %d must not be negative", cfg.Audio.PlaybackBufferFrames))
	}

	// Codec
	if cfg.Codec.Application != "" && !opus.Application(cfg.Codec.Application).IsValid() {
		errs = append(errs, fmt.Errorf("codec.application %q is invalid; valid values: voip, audio, lowdelay", cfg.Codec.Application))
	}
	if b := cfg.Codec.Bitrate; b != 0 && (b < 6000 || b > 510000) {
		errs = append(errs, fmt.Errorf("codec.bitrate %d is out of range [6000, 510000]", b))
	}

	// Pipeline
	if cfg.Pipeline.PlaybackDelayMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.playback_delay_ms %d must not be negative", cfg.Pipeline.PlaybackDelayMs))
	}
	if cfg.Pipeline.RestartBackoffMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.restart_backoff_ms %d must not be negative", cfg.Pipeline.RestartBackoffMs))
	}
	if cfg.Pipeline.MaxRestartAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_restart_attempts %d must not be negative", cfg.Pipeline.MaxRestartAttempts))
	}
	if cfg.Pipeline.RestartStableMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.restart_stable_ms %d must not be negative", cfg.Pipeline.RestartStableMs))
	}
	if cfg.Pipeline.PlaybackDelayMs > 1000 {
		slog.Warn("pipeline.playback_delay_ms exceeds one second; playback queues will grow accordingly",
			"playback_delay_ms", cfg.Pipeline.PlaybackDelayMs)
	}

	return errors.Join(errs...)
}

// validateDeviceName logs a warning if name is not one of [KnownDevices].
// Backends registered at runtime are still accepted.
func validateDeviceName(name string) {
	if slices.Contains(KnownDevices, name) {
		return
	}
	slog.Warn("unknown audio device backend; may be a typo or a custom registration",
		"name", name,
		"known", KnownDevices,
	)
}
