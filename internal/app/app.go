// Package app wires the opusloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the codec factory, the
// pipeline controller, the restart supervisor and the admin HTTP server; Run
// streams until its context is cancelled; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithCodec,
// WithMetrics, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/opusloop/internal/config"
	"github.com/MrWong99/opusloop/internal/health"
	"github.com/MrWong99/opusloop/internal/observe"
	"github.com/MrWong99/opusloop/internal/pipeline"
	"github.com/MrWong99/opusloop/internal/resilience"
	"github.com/MrWong99/opusloop/pkg/codec"
	"github.com/MrWong99/opusloop/pkg/codec/opus"
)

// serverShutdownTimeout bounds the graceful shutdown of the admin server.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	devices config.Devices
	log     *slog.Logger
	metrics *observe.Metrics
	codec   codec.Factory

	// metricsHandler serves /metrics when non-nil.
	metricsHandler http.Handler

	ctrl      *pipeline.Controller
	restarter *resilience.Restarter
	handler   http.Handler
	server    *http.Server

	mu       sync.Mutex
	addr     net.Addr
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics injects metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCodec injects a codec factory instead of the Opus factory built from
// the codec config.
func WithCodec(f codec.Factory) Option {
	return func(a *App) { a.codec = f }
}

// WithMetricsHandler mounts h on GET /metrics, typically promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App over devices, which usually come from the device
// [config.Registry]. The App takes ownership of devices and closes them in
// Shutdown.
func New(cfg *config.Config, devices config.Devices, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		devices: devices,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	g, err := cfg.Audio.Geometry()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Codec ─────────────────────────────────────────────────────────
	if a.codec == nil {
		var copts []opus.Option
		if mode := cfg.Codec.Application; mode != "" {
			copts = append(copts, opus.WithApplication(opus.Application(mode)))
		}
		if cfg.Codec.Bitrate > 0 {
			copts = append(copts, opus.WithBitrate(cfg.Codec.Bitrate))
		}
		a.codec = opus.NewFactory(copts...)
	}

	// ── 2. Restart supervisor ────────────────────────────────────────────
	ctrlOpts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
	}
	if cfg.Pipeline.AutoRestart {
		a.restarter, err = resilience.NewRestarter(resilience.RestarterConfig{
			Start:      a.restart,
			Breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "pipeline", Logger: a.log}),
			MaxRetries: cfg.Pipeline.MaxRestartAttempts,
			Backoff:    cfg.Pipeline.RestartBackoff(),
			StableFor:  cfg.Pipeline.RestartStable(),
			OnAttempt: func(_ int, err error) {
				a.metrics.RecordRestart(context.Background(), err)
			},
			Logger: a.log,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		ctrlOpts = append(ctrlOpts, pipeline.WithFailureHandler(func(string, error) {
			a.restarter.NotifyFailure()
		}))
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	a.ctrl, err = pipeline.New(pipeline.Config{
		Geometry:           g,
		Capture:            devices.Capture,
		Playback:           devices.Playback,
		Codec:              a.codec,
		PlaybackDelay:      cfg.Pipeline.PlaybackDelay(),
		ResumeOnForeground: cfg.Pipeline.ResumeOnForeground,
	}, ctrlOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 4. Admin HTTP ────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		[]health.Checker{health.PipelineChecker(a.ctrl)},
		health.WithStatus(a.ctrl),
	).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller {
	return a.ctrl
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Addr returns the admin server's bound address once Run is listening, or
// nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// restart is the restart supervisor's start function. A closed controller
// counts as done.
func (a *App) restart(ctx context.Context) error {
	err := a.ctrl.Start(ctx)
	if errors.Is(err, pipeline.ErrClosed) {
		return nil
	}
	return err
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline and the admin server and blocks until ctx is
// cancelled or one of them fails. The pipeline is left running for
// Shutdown to stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.mu.Lock()
		a.addr = ln.Addr()
		a.server = &http.Server{Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		srv := a.server
		a.mu.Unlock()

		a.log.Info("admin server listening", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.restarter != nil {
		g.Go(func() error { return a.restarter.Run(gctx) })
	}

	g.Go(func() error {
		if err := a.ctrl.Start(gctx); err != nil {
			return fmt.Errorf("app: start pipeline: %w", err)
		}
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// Background forwards to [pipeline.Controller.OnBackground].
func (a *App) Background(ctx context.Context) error {
	return a.ctrl.OnBackground(ctx)
}

// Foreground forwards to [pipeline.Controller.OnForeground].
func (a *App) Foreground(ctx context.Context) error {
	return a.ctrl.OnForeground(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

type closer struct {
	name string
	fn   func() error
}

// Shutdown closes the pipeline and then the shared device backend. It
// respects the context deadline: if ctx expires before the closers finish,
// the remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := []closer{{"pipeline", a.ctrl.Close}}
		if a.devices.Close != nil {
			closers = append(closers, closer{"devices", a.devices.Close})
		}

		a.log.Info("shutting down", "closers", len(closers))
		var errs []error
		for i, c := range closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := c.fn(); err != nil {
				a.log.Warn("closer error", "closer", c.name, "err", err)
				errs = append(errs, fmt.Errorf("app: close %s: %w", c.name, err))
			}
		}
		shutdownErr = errors.Join(errs...)
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
