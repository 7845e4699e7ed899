package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/opusloop/internal/executor"
	"github.com/MrWong99/opusloop/internal/observe"
	"github.com/MrWong99/opusloop/pkg/audio"
	"github.com/MrWong99/opusloop/pkg/codec"
)

// captureLoop returns the long-running capture task for sess. It checks the
// running flag once per frame, so a frame read before Stop is still encoded
// and forwarded.
func (c *Controller) captureLoop(sess *session) executor.Task {
	return func(ctx context.Context) error {
		log := c.log.With("session", sess.id)
		frameSamples := c.cfg.Geometry.FrameSamples
		log.Debug("capture loop started")
		defer log.Debug("capture loop exited")

		for sess.running.Load() {
			pcm, err := c.cfg.Capture.Read(ctx, frameSamples)
			if err != nil {
				if ctx.Err() != nil || !sess.running.Load() {
					return nil
				}
				if errors.Is(err, audio.ErrDevice) || errors.Is(err, audio.ErrState) {
					return &sessionError{sess: sess, op: "read", err: err}
				}
				c.drop(ctx, log, sess, observe.StageCapture, "read", err)
				// Back off one frame period so a persistent fault cannot spin.
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.cfg.Geometry.FrameDuration()):
				}
				continue
			}
			c.captured.Add(1)
			c.metrics.FramesCaptured.Add(ctx, 1)

			pkt, err := c.encode(ctx, sess, pcm)
			if err != nil {
				if errors.Is(err, audio.ErrState) {
					if !sess.running.Load() {
						log.Debug("frame dropped after stop", "stage", observe.StageEncode, "err", err)
						return nil
					}
					return &sessionError{sess: sess, op: "encode", err: err}
				}
				c.drop(ctx, log, sess, observe.StageEncode, "codec", err)
				continue
			}

			if err := c.forward(ctx, sess, pkt); err != nil {
				c.drop(ctx, log, sess, observe.StageEncode, "route", err)
			}
		}
		return nil
	}
}

func (c *Controller) encode(ctx context.Context, sess *session, pcm []int16) (codec.Packet, error) {
	start := time.Now()
	pkt, err := sess.enc.Encode(pcm)
	if err != nil {
		return nil, err
	}
	c.encoded.Add(1)
	c.metrics.RecordEncode(ctx, time.Since(start), len(pkt))
	return pkt, nil
}

// forward hands pkt to the configured route, or loops it back into the
// playback executor.
func (c *Controller) forward(ctx context.Context, sess *session, pkt codec.Packet) error {
	if c.route != nil {
		return c.route(ctx, pkt)
	}
	return c.schedulePlayback(sess, pkt)
}

// Deliver schedules a packet received from outside the capture loop, such as
// from a transport installed with [WithFrameRoute], for decoding and playback
// in the current session. It fails with [audio.ErrState] when the pipeline is
// not running.
func (c *Controller) Deliver(pkt codec.Packet) error {
	sess := c.current.Load()
	if sess == nil || !sess.running.Load() {
		return fmt.Errorf("pipeline: deliver: %w: not running", audio.ErrState)
	}
	return c.schedulePlayback(sess, pkt)
}

// schedulePlayback submits the decode-and-play task for pkt. The packet is
// owned by the task from here on.
func (c *Controller) schedulePlayback(sess *session, pkt codec.Packet) error {
	task := c.playbackTask(sess, pkt)
	var err error
	if c.cfg.PlaybackDelay > 0 {
		err = c.playback.SubmitDelayed(c.cfg.PlaybackDelay, task)
	} else {
		err = c.playback.Submit(task)
	}
	if err != nil {
		return fmt.Errorf("pipeline: schedule playback: %w: %w", audio.ErrState, err)
	}
	return nil
}

// playbackTask decodes pkt and writes the frame to the sink.
func (c *Controller) playbackTask(sess *session, pkt codec.Packet) executor.Task {
	return func(ctx context.Context) error {
		log := c.log.With("session", sess.id)

		start := time.Now()
		pcm, err := sess.dec.Decode(pkt)
		if err != nil {
			if errors.Is(err, audio.ErrState) {
				if !sess.running.Load() {
					log.Debug("frame dropped after stop", "stage", observe.StageDecode, "err", err)
					return nil
				}
				return &sessionError{sess: sess, op: "decode", err: err}
			}
			c.drop(ctx, log, sess, observe.StageDecode, "codec", err)
			return nil
		}
		c.decoded.Add(1)
		c.metrics.RecordDecode(ctx, time.Since(start))

		if err := c.cfg.Playback.Write(ctx, pcm); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.drop(ctx, log, sess, observe.StagePlayback, "write", err)
			return nil
		}
		c.played.Add(1)
		c.metrics.FramesPlayed.Add(ctx, 1)
		return nil
	}
}

// drop counts a discarded frame. Drops after the session stopped are
// expected and logged at debug level.
func (c *Controller) drop(ctx context.Context, log *slog.Logger, sess *session, stage, reason string, err error) {
	c.dropped.Add(1)
	c.metrics.RecordDropped(ctx, stage, reason)
	level := slog.LevelWarn
	if !sess.running.Load() {
		level = slog.LevelDebug
	}
	log.Log(ctx, level, "frame dropped", "stage", stage, "reason", reason, "err", err)
}
