// Package pipeline runs the capture → encode → loopback → decode → playback
// chain on two single-threaded executors.
//
// The [Controller] owns the lifecycle:
//
//	Idle ──Prepare──▶ Ready ──Start──▶ Running ──Stop──▶ Stopped
//	  ▲                                                   │
//	  └──────────────────── OnBackground ─────────────────┘
//
// A capture loop occupies the capture executor for the whole session: it
// reads one frame, encodes it and forwards the packet to the playback
// executor, where a short task decodes it and writes it to the sink. The
// encoder is only touched on the capture executor and the decoder only on
// the playback executor, so the data path takes no locks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/opusloop/internal/executor"
	"github.com/MrWong99/opusloop/internal/observe"
	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/codec"
)

// Executor names, also used as metric attributes.
const (
	CaptureExecutor  = "capture"
	PlaybackExecutor = "playback"
)

// ErrClosed is returned by lifecycle methods called after [Controller.Close].
var ErrClosed = fmt.Errorf("pipeline: %w: controller closed", audio.ErrState)

// Config holds everything a [Controller] needs. All fields except
// PlaybackDelay and ResumeOnForeground are required.
type Config struct {
	// Geometry is the fixed frame shape for the controller's lifetime.
	Geometry audio.Geometry

	Capture  audio.CaptureSource
	Playback audio.PlaybackSink
	Codec    codec.Factory

	// PlaybackDelay delays each playback task after its packet is encoded.
	// Zero schedules playback immediately.
	PlaybackDelay time.Duration

	// ResumeOnForeground restarts a session that was running when the
	// pipeline went to the background.
	ResumeOnForeground bool
}

func (c Config) validate() error {
	var errs []error
	if err := c.Geometry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Capture == nil {
		errs = append(errs, fmt.Errorf("%w: capture source is required", audio.ErrConfig))
	}
	if c.Playback == nil {
		errs = append(errs, fmt.Errorf("%w: playback sink is required", audio.ErrConfig))
	}
	if c.Codec == nil {
		errs = append(errs, fmt.Errorf("%w: codec factory is required", audio.ErrConfig))
	}
	if c.PlaybackDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: playback delay %v is negative", audio.ErrConfig, c.PlaybackDelay))
	}
	return errors.Join(errs...)
}

// FrameRoute receives every encoded packet leaving the capture loop. The
// default route loops packets back into the local playback executor; a
// transport would replace it and feed received packets to
// [Controller.Deliver].
type FrameRoute func(ctx context.Context, pkt codec.Packet) error

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFrameRoute replaces the loopback route for encoded packets.
func WithFrameRoute(r FrameRoute) Option {
	return func(c *Controller) {
		c.route = r
	}
}

// WithFailureHandler sets fn to be called after a session ends because of a
// device or codec state failure. fn runs on its own goroutine without any
// controller lock held, so it may call back into the controller.
func WithFailureHandler(fn func(session string, err error)) Option {
	return func(c *Controller) {
		c.onFailure = fn
	}
}

// session is one Start..Stop span. Loops capture their session so a loop that
// outlives its session can never act on the next one.
type session struct {
	id      string
	running atomic.Bool
	enc     codec.Encoder
	dec     codec.Decoder
}

// sessionError is returned by loop tasks for failures that end the session.
type sessionError struct {
	sess *session
	op   string
	err  error
}

func (e *sessionError) Error() string {
	return fmt.Sprintf("pipeline: session %s: %s: %v", e.sess.id, e.op, e.err)
}

func (e *sessionError) Unwrap() error { return e.err }

// Controller drives the pipeline. All methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	route   FrameRoute

	onFailure func(session string, err error)

	capture  *executor.Executor
	playback *executor.Executor

	// mu serialises lifecycle transitions.
	mu          sync.Mutex
	enc         codec.Encoder
	dec         codec.Decoder
	devicesOpen bool
	sess        *session
	lastSession string
	wasRunning  bool
	closed      bool

	// Readable without mu.
	state   atomic.Int32
	current atomic.Pointer[session]

	captured atomic.Uint64
	encoded  atomic.Uint64
	decoded  atomic.Uint64
	played   atomic.Uint64
	dropped  atomic.Uint64
}

// New validates cfg and starts the capture and playback executors. The
// controller starts in [Idle]; no codec or device is touched until
// [Controller.Prepare] or [Controller.Start].
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: new: %w", err)
	}
	c := &Controller{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "pipeline")

	c.capture = executor.New(CaptureExecutor,
		executor.WithLogger(c.log),
		executor.WithErrorHandler(c.taskFailed(CaptureExecutor)),
	)
	c.playback = executor.New(PlaybackExecutor,
		executor.WithLogger(c.log),
		executor.WithErrorHandler(c.taskFailed(PlaybackExecutor)),
	)
	if err := c.capture.Start(); err != nil {
		return nil, fmt.Errorf("pipeline: new: %w: %w", audio.ErrState, err)
	}
	if err := c.playback.Start(); err != nil {
		c.capture.Stop()
		return nil, fmt.Errorf("pipeline: new: %w: %w", audio.ErrState, err)
	}
	c.log.Info("pipeline created", "geometry", cfg.Geometry.String(), "playback_delay", cfg.PlaybackDelay)
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Running reports whether a session is streaming.
func (c *Controller) Running() bool {
	return c.State() == Running
}

// Geometry returns the frame geometry fixed at construction.
func (c *Controller) Geometry() audio.Geometry {
	return c.cfg.Geometry
}

// Stats returns a snapshot of the pipeline counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	id := c.lastSession
	c.mu.Unlock()
	return Stats{
		State:           c.State(),
		Session:         id,
		Captured:        c.captured.Load(),
		Encoded:         c.encoded.Load(),
		Decoded:         c.decoded.Load(),
		Played:          c.played.Load(),
		Dropped:         c.dropped.Load(),
		CapturePending:  c.capture.Pending(),
		PlaybackPending: c.playback.Pending(),
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Prepare creates the encoder and decoder and opens both devices without
// starting them. From [Ready] or [Running] it does nothing; from [Stopped]
// it keeps the codec handles that are still usable and replaces the rest.
// On failure everything created so far is
// released and the controller stays [Idle].
func (c *Controller) Prepare(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.prepare")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return spanErr(span, c.prepareLocked(ctx))
}

func (c *Controller) prepareLocked(ctx context.Context) error {
	switch c.State() {
	case Ready, Running:
		return nil
	case Stopped:
		if c.enc != nil && c.dec != nil && c.enc.Usable() && c.dec.Usable() {
			c.setState(Ready)
			return nil
		}
		// A session that died on a codec state error leaves a dead handle.
		if err := c.releaseCodecs(); err != nil {
			c.log.Warn("release stale codec handles", "err", err)
		}
	}

	enc, err := c.cfg.Codec.NewEncoder(c.cfg.Geometry)
	if err != nil {
		return fmt.Errorf("pipeline: prepare: encoder: %w", err)
	}
	dec, err := c.cfg.Codec.NewDecoder(c.cfg.Geometry)
	if err != nil {
		_ = enc.Release()
		return fmt.Errorf("pipeline: prepare: decoder: %w", err)
	}

	if !c.devicesOpen {
		if err := c.cfg.Capture.Open(ctx); err != nil {
			_ = enc.Release()
			_ = dec.Release()
			c.setState(Idle)
			return fmt.Errorf("pipeline: prepare: open capture: %w", deviceErr(err))
		}
		if err := c.cfg.Playback.Open(ctx); err != nil {
			_ = c.cfg.Capture.Close()
			_ = enc.Release()
			_ = dec.Release()
			c.setState(Idle)
			return fmt.Errorf("pipeline: prepare: open playback: %w", deviceErr(err))
		}
		c.devicesOpen = true
	}

	c.enc, c.dec = enc, dec
	c.setState(Ready)
	observe.Logger(ctx, c.log).Info("pipeline prepared")
	return nil
}

// Start begins a capture session: it starts playback streaming, then capture
// streaming, then submits the capture loop. A controller in [Idle] is
// prepared first. If any step fails the steps already taken are undone and
// the controller returns to [Ready]. Starting a running pipeline does nothing.
func (c *Controller) Start(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.start")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	err := c.startLocked(ctx)
	if c.sess != nil {
		span.SetAttributes(attribute.String("session", c.sess.id))
	}
	return spanErr(span, err)
}

func (c *Controller) startLocked(ctx context.Context) error {
	if c.State() == Running {
		return nil
	}
	if err := c.prepareLocked(ctx); err != nil {
		return err
	}

	sess := &session{id: uuid.NewString(), enc: c.enc, dec: c.dec}
	sess.running.Store(true)
	log := observe.Logger(ctx, c.log).With("session", sess.id)

	rollback := func(err error) error {
		sess.running.Store(false)
		c.setState(Ready)
		log.Warn("pipeline start rolled back", "err", err)
		return fmt.Errorf("pipeline: start: %w", err)
	}

	if err := c.cfg.Playback.StartStreaming(); err != nil {
		return rollback(deviceErr(err))
	}
	if err := c.cfg.Capture.StartStreaming(); err != nil {
		_ = c.cfg.Playback.StopStreaming()
		return rollback(deviceErr(err))
	}

	// Publish the session before the loop can forward its first packet.
	c.sess = sess
	c.current.Store(sess)
	if err := c.capture.Submit(c.captureLoop(sess)); err != nil {
		c.sess = nil
		c.current.Store(nil)
		_ = c.cfg.Capture.StopStreaming()
		_ = c.cfg.Playback.StopStreaming()
		return rollback(fmt.Errorf("%w: %w", audio.ErrState, err))
	}

	c.lastSession = sess.id
	c.setState(Running)
	c.metrics.PipelineRunning.Add(ctx, 1)
	log.Info("pipeline started")
	return nil
}

// Stop ends the current session: it clears the running flag and stops
// playback and capture streaming. A frame the capture loop has already read
// may still be encoded and played. Stop is a no-op returning nil unless the
// pipeline is [Running].
func (c *Controller) Stop(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.stop")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Running {
		return nil
	}
	return spanErr(span, c.stopLocked(ctx, "requested"))
}

func (c *Controller) stopLocked(ctx context.Context, reason string) error {
	sess := c.sess
	sess.running.Store(false)
	c.sess = nil
	c.current.Store(nil)

	var errs []error
	if err := c.cfg.Playback.StopStreaming(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: stop playback: %w", deviceErr(err)))
	}
	if err := c.cfg.Capture.StopStreaming(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: stop capture: %w", deviceErr(err)))
	}
	c.setState(Stopped)
	c.metrics.PipelineRunning.Add(ctx, -1)
	observe.Logger(ctx, c.log).Info("pipeline stopped", "session", sess.id, "reason", reason)
	return errors.Join(errs...)
}

// stopSession stops sess if it is still the current session. Loops call it
// from their own goroutine so they never wait on mu.
func (c *Controller) stopSession(sess *session, cause error) {
	c.mu.Lock()
	if c.closed || c.sess != sess || c.State() != Running {
		c.mu.Unlock()
		return
	}
	c.log.Warn("session failed", "session", sess.id, "err", cause)
	if err := c.stopLocked(context.Background(), "failed"); err != nil {
		c.log.Warn("stop after session failure", "session", sess.id, "err", err)
	}
	c.mu.Unlock()

	if c.onFailure != nil {
		c.onFailure(sess.id, cause)
	}
}

// OnBackground stops a running session and releases both codec handles,
// leaving the controller [Idle] with its devices still open. Whether a
// session was running is remembered for [Controller.OnForeground].
func (c *Controller) OnBackground(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.background")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return spanErr(span, c.backgroundLocked(ctx))
}

func (c *Controller) backgroundLocked(ctx context.Context) error {
	var errs []error
	c.wasRunning = c.State() == Running
	if c.wasRunning {
		if err := c.stopLocked(ctx, "background"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.releaseCodecs(); err != nil {
		errs = append(errs, err)
	}
	c.setState(Idle)
	observe.Logger(ctx, c.log).Info("pipeline backgrounded", "was_running", c.wasRunning)
	return errors.Join(errs...)
}

// releaseCodecs releases and forgets both codec handles.
func (c *Controller) releaseCodecs() error {
	var errs []error
	if c.enc != nil {
		if err := c.enc.Release(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: release encoder: %w", err))
		}
		c.enc = nil
	}
	if c.dec != nil {
		if err := c.dec.Release(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: release decoder: %w", err))
		}
		c.dec = nil
	}
	return errors.Join(errs...)
}

// OnForeground brings the pipeline back to [Ready], creating codec handles
// and opening devices as [Controller.Prepare] does. It restarts the session
// only when ResumeOnForeground is set and a session was running when the
// pipeline went to the background. When a session is still running, any open
// device that has stopped streaming is started again.
func (c *Controller) OnForeground(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.foreground")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.State() == Running {
		return spanErr(span, c.resumeStreamingLocked(ctx))
	}
	resume := c.cfg.ResumeOnForeground && c.wasRunning
	c.wasRunning = false
	if err := c.prepareLocked(ctx); err != nil {
		return spanErr(span, err)
	}
	if resume {
		return spanErr(span, c.startLocked(ctx))
	}
	return nil
}

// resumeStreamingLocked restarts streaming on devices of the running session
// that the platform paused. If a device refuses, the session is stopped.
func (c *Controller) resumeStreamingLocked(ctx context.Context) error {
	devices := []struct {
		name string
		dev  audio.Device
	}{
		{"playback", c.cfg.Playback},
		{"capture", c.cfg.Capture},
	}
	log := observe.Logger(ctx, c.log).With("session", c.sess.id)
	for _, d := range devices {
		if d.dev.IsStreaming() {
			continue
		}
		if err := d.dev.StartStreaming(); err != nil {
			err = fmt.Errorf("pipeline: foreground: restart %s: %w", d.name, deviceErr(err))
			if stopErr := c.stopLocked(ctx, "foreground"); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			return err
		}
		log.Info("device streaming resumed", "device", d.name)
	}
	return nil
}

// Close backgrounds the pipeline, stops both executors and closes the
// devices. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx := context.Background()
	errs := []error{c.backgroundLocked(ctx)}
	c.capture.Stop()
	c.playback.Stop()
	if c.devicesOpen {
		if err := c.cfg.Capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: close capture: %w", err))
		}
		if err := c.cfg.Playback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: close playback: %w", err))
		}
		c.devicesOpen = false
	}
	c.log.Info("pipeline closed")
	return errors.Join(errs...)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// taskFailed returns the executor error handler. A [sessionError] ends its
// session; anything else is only counted.
func (c *Controller) taskFailed(name string) func(error) {
	return func(err error) {
		c.metrics.RecordTaskError(context.Background(), name)
		var se *sessionError
		if errors.As(err, &se) {
			go c.stopSession(se.sess, err)
		}
	}
}

// deviceErr makes sure err classifies as [audio.ErrDevice].
func deviceErr(err error) error {
	if errors.Is(err, audio.ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDevice, err)
}

// spanErr records err on span and returns it.
func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
