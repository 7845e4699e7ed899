package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/opusloop/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }, "server.listen_addr"},
		{"sample rate", func(c *config.Config) { c.Audio.SampleRate = 48000 }, "audio.sample_rate"},
		{"frame duration", func(c *config.Config) { c.Audio.FrameDurationMs = 10 }, "audio.frame_duration_ms"},
		{"device", func(c *config.Config) { c.Audio.Device = config.DeviceMiniaudio }, "audio.device"},
		{"capture buffer", func(c *config.Config) { c.Audio.CaptureBufferFrames = 9 }, "audio.capture_buffer_frames"},
		{"application", func(c *config.Config) { c.Codec.Application = "audio" }, "codec.application"},
		{"bitrate", func(c *config.Config) { c.Codec.Bitrate = 32000 }, "codec.bitrate"},
		{"delay", func(c *config.Config) { c.Pipeline.PlaybackDelayMs = 20 }, "pipeline.playback_delay_ms"},
		{"resume", func(c *config.Config) { c.Pipeline.ResumeOnForeground = true }, "pipeline.resume_on_foreground"},
		{"auto restart", func(c *config.Config) { c.Pipeline.AutoRestart = true }, "pipeline.auto_restart"},
		{"restart stable", func(c *config.Config) { c.Pipeline.RestartStableMs = 1 }, "pipeline.restart_stable_ms"},
		{"restart backoff", func(c *config.Config) { c.Pipeline.RestartBackoffMs = 100 }, "pipeline.restart_backoff_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.want}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.want)
			}
			if d.LogLevelChanged {
				t.Error("unexpected LogLevelChanged")
			}
		})
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogError
	new.Audio.ToneHz = 880
	new.Codec.Bitrate = 24000

	d := config.Diff(old, new)
	if !d.Changed() || !d.LogLevelChanged {
		t.Fatalf("expected changes, got %+v", d)
	}
	want := []string{"audio.tone_hz", "codec.bitrate"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
