// Package config provides the configuration schema, loader, hot-reload
// watcher and device backend registry for opusloop.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/opusloop/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown or empty levels map
// to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for opusloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Codec    CodecConfig    `yaml:"codec"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin server serving /metrics,
	// /healthz and /readyz (e.g., ":9464"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Applied live by the watcher.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the frame geometry and the device backend. None of
// it can change while the process runs.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels must be 1.
	Channels int `yaml:"channels"`

	// FrameDurationMs is the frame period in milliseconds.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// Device selects the backend registered in the [Registry] ("synth",
	// "miniaudio").
	Device string `yaml:"device"`

	// ToneHz is the pitch of the synth capture tone.
	ToneHz float64 `yaml:"tone_hz"`

	// CaptureBufferFrames and PlaybackBufferFrames size the frame queues
	// between hardware callbacks and the pipeline.
	CaptureBufferFrames  int `yaml:"capture_buffer_frames"`
	PlaybackBufferFrames int `yaml:"playback_buffer_frames"`
}

// Geometry derives the frame geometry from the audio settings.
func (a AudioConfig) Geometry() (audio.Geometry, error) {
	return audio.NewGeometry(a.SampleRate, a.Channels, a.FrameDurationMs)
}

// CodecConfig tunes the Opus encoder.
type CodecConfig struct {
	// Application is the Opus application mode: voip, audio or lowdelay.
	Application string `yaml:"application"`

	// Bitrate in bits per second. Zero keeps the encoder default.
	Bitrate int `yaml:"bitrate"`
}

// PipelineConfig configures the controller.
type PipelineConfig struct {
	// PlaybackDelayMs delays each decoded frame's playback task.
	PlaybackDelayMs int `yaml:"playback_delay_ms"`

	// ResumeOnForeground restarts a session that was running when the
	// pipeline was sent to the background.
	ResumeOnForeground bool `yaml:"resume_on_foreground"`

	// AutoRestart restarts a session that ended in a device or codec fault.
	// Off by default: a failed device stays stopped until an operator acts.
	AutoRestart bool `yaml:"auto_restart"`

	// RestartBackoffMs is the wait before the first restart attempt. It
	// doubles per failed attempt.
	RestartBackoffMs int `yaml:"restart_backoff_ms"`

	// MaxRestartAttempts bounds the attempts per fault episode. A restarted
	// session that fails again within RestartStableMs stays in the same
	// episode.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// RestartStableMs is how long a restarted session must run before its
	// next failure starts a fresh episode.
	RestartStableMs int `yaml:"restart_stable_ms"`
}

// PlaybackDelay returns PlaybackDelayMs as a [time.Duration].
func (p PipelineConfig) PlaybackDelay() time.Duration {
	return time.Duration(p.PlaybackDelayMs) * time.Millisecond
}

// RestartBackoff returns RestartBackoffMs as a [time.Duration].
func (p PipelineConfig) RestartBackoff() time.Duration {
	return time.Duration(p.RestartBackoffMs) * time.Millisecond
}

// RestartStable returns RestartStableMs as a [time.Duration].
func (p PipelineConfig) RestartStable() time.Duration {
	return time.Duration(p.RestartStableMs) * time.Millisecond
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9464",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			SampleRate:           24000,
			Channels:             1,
			FrameDurationMs:      20,
			Device:               DeviceSynth,
			ToneHz:               440,
			CaptureBufferFrames:  4,
			PlaybackBufferFrames: 4,
		},
		Codec: CodecConfig{
			Application: "voip",
		},
		Pipeline: PipelineConfig{
			RestartBackoffMs:   500,
			MaxRestartAttempts: 5,
			RestartStableMs:    10000,
		},
	}
}
