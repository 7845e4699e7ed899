// Command opusloop captures audio, encodes it to Opus, decodes it again and
// plays it back, exposing metrics and health probes on an admin server.
//
// Signals:
//
//	SIGINT, SIGTERM  stop and exit
//	SIGUSR1          send the pipeline to the background
//	SIGUSR2          bring the pipeline back to the foreground
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/opusloop/internal/app"
	"github.com/MrWong99/opusloop/internal/config"
	"github.com/MrWong99/opusloop/internal/observe"
	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/audio/miniaudio"
	"github.com/MrWong99/opusloop/pkg/audio/synth"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// memorySinkFrames bounds how many frames the synth backend keeps.
const memorySinkFrames = 256

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: built-in defaults)")
	duration := flag.Duration("duration", 0, "stop after this long (0: run until signalled)")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *configPath == "" {
		cfg = config.Default()
	} else {
		watcher, err = config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			applyReload(&level, d)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "opusloop: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "opusloop: %v\n", err)
			}
			return 1
		}
		defer watcher.Stop()
		cfg = watcher.Current()
	}
	level.Set(cfg.Server.LogLevel.SlogLevel())

	slog.Info("opusloop starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"device", cfg.Audio.Device,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Devices ───────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinDevices(reg, logger)
	devices, err := reg.Create(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio devices", "err", err, "registered", reg.Names())
		return 1
	}

	application, err := app.New(cfg, devices,
		app.WithLogger(logger),
		app.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		if devices.Close != nil {
			_ = devices.Close()
		}
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	go handleLifecycleSignals(ctx, application, watcher)

	slog.Info("pipeline starting; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st := application.Controller().Stats()
	slog.Info("stopping",
		"captured", st.Captured,
		"encoded", st.Encoded,
		"decoded", st.Decoded,
		"played", st.Played,
		"dropped", st.Dropped,
	)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Device wiring ─────────────────────────────────────────────────────────────

// registerBuiltinDevices wires the device backends that ship with opusloop
// into reg.
func registerBuiltinDevices(reg *config.Registry, logger *slog.Logger) {
	reg.Register(config.DeviceSynth, func(cfg config.AudioConfig, g audio.Geometry) (config.Devices, error) {
		return config.Devices{
			Capture: synth.NewToneSource(g,
				synth.WithFrequency(cfg.ToneHz),
				synth.WithRealtime(true),
			),
			Playback: synth.NewMemorySink(memorySinkFrames),
		}, nil
	})

	reg.Register(config.DeviceMiniaudio, func(cfg config.AudioConfig, g audio.Geometry) (config.Devices, error) {
		mctx, err := miniaudio.NewContext(logger)
		if err != nil {
			return config.Devices{}, err
		}
		return config.Devices{
			Capture:  miniaudio.NewCapture(mctx, g, miniaudio.WithLogger(logger), miniaudio.WithBufferFrames(cfg.CaptureBufferFrames)),
			Playback: miniaudio.NewPlayback(mctx, g, miniaudio.WithLogger(logger), miniaudio.WithBufferFrames(cfg.PlaybackBufferFrames)),
			Close:    mctx.Close,
		}, nil
	})
}

// ── Lifecycle signals ─────────────────────────────────────────────────────────

// handleLifecycleSignals maps SIGUSR1 and SIGUSR2 to background and
// foreground transitions until ctx is done. SIGHUP forces a config reload
// when a watcher is running.
func handleLifecycleSignals(ctx context.Context, a *app.App, w *config.Watcher) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				if w == nil {
					slog.Info("no config file to reload")
					continue
				}
				if err := w.Reload(); err != nil {
					slog.Warn("config reload failed", "err", err)
				}
				continue
			}
			var err error
			switch sig {
			case syscall.SIGUSR1:
				err = a.Background(ctx)
			case syscall.SIGUSR2:
				err = a.Foreground(ctx)
			}
			if err != nil {
				slog.Warn("lifecycle transition failed", "signal", sig.String(), "err", err)
			} else {
				slog.Info("lifecycle transition", "signal", sig.String(), "state", a.Controller().State().String())
			}
		}
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload applies the live-reloadable settings in d and warns about the
// ones that need a restart.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
}
