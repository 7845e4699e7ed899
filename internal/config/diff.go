package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is the only setting applied without a restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names every changed setting that only takes effect
	// after a restart, such as "audio.sample_rate" or "codec.bitrate".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}

	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)

	oa, na := old.Audio, new.Audio
	restart("audio.sample_rate", oa.SampleRate != na.SampleRate)
	restart("audio.channels", oa.Channels != na.Channels)
	restart("audio.frame_duration_ms", oa.FrameDurationMs != na.FrameDurationMs)
	restart("audio.device", oa.Device != na.Device)
	restart("audio.tone_hz", oa.ToneHz != na.ToneHz)
	restart("audio.capture_buffer_frames", oa.CaptureBufferFrames != na.CaptureBufferFrames)
	restart("audio.playback_buffer_frames", oa.PlaybackBufferFrames != na.PlaybackBufferFrames)

	restart("codec.application", old.Codec.Application != new.Codec.Application)
	restart("codec.bitrate", old.Codec.Bitrate != new.Codec.Bitrate)

	restart("pipeline.playback_delay_ms", old.Pipeline.PlaybackDelayMs != new.Pipeline.PlaybackDelayMs)
	restart("pipeline.resume_on_foreground", old.Pipeline.ResumeOnForeground != new.Pipeline.ResumeOnForeground)
	restart("pipeline.auto_restart", old.Pipeline.AutoRestart != new.Pipeline.AutoRestart)
	restart("pipeline.restart_backoff_ms", old.Pipeline.RestartBackoffMs != new.Pipeline.RestartBackoffMs)
	restart("pipeline.max_restart_attempts", old.Pipeline.MaxRestartAttempts != new.Pipeline.MaxRestartAttempts)
	restart("pipeline.restart_stable_ms", old.Pipeline.RestartStableMs != new.Pipeline.RestartStableMs)

	return d
}
