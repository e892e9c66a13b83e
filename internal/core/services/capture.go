package services

import (
	"context"
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"go.uber.org/zap"
)

// CaptureController acquires the local display-capture stream and owns the
// single active capture session. At most one session may be active; starting
// another while one is live is rejected without touching the existing one.
type CaptureController struct {
	device      ports.CaptureDevice
	notifier    ports.Notifier
	constraints domain.CaptureConstraints
	refinement  domain.TrackConstraints

	mu     sync.Mutex
	active ports.MediaStream

	onStream  func(stream ports.MediaStream)
	onStopped func()

	logger *zap.SugaredLogger
}

// NewCaptureController wires a capture controller around a device.
func NewCaptureController(
	device ports.CaptureDevice,
	notifier ports.Notifier,
	constraints domain.CaptureConstraints,
	refinement domain.TrackConstraints,
	logger *zap.SugaredLogger,
) *CaptureController {
	return &CaptureController{
		device:      device,
		notifier:    notifier,
		constraints: constraints,
		refinement:  refinement,
		logger:      logger,
	}
}

// SetHandlers registers the stream lifecycle observers. Call before Start.
func (c *CaptureController) SetHandlers(onStream func(ports.MediaStream), onStopped func()) {
	c.mu.Lock()
	c.onStream = onStream
	c.onStopped = onStopped
	c.mu.Unlock()
}

// Start requests a display capture with the target constraints, then applies
// the non-fatal refinement pass. A denied or unavailable capture surface is
// reported once and not retried.
func (c *CaptureController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return domain.ErrCaptureActive
	}
	c.mu.Unlock()

	stream, err := c.device.Acquire(ctx, c.constraints)
	if err != nil {
		c.logger.Errorw("screen capture failed", "error", err)
		c.notifier.Notify(domain.Notification{
			Title:   "Screen sharing failed",
			Message: "Could not start screen sharing. Check permissions and try again.",
			Variant: domain.NotificationDestructive,
		})
		return err
	}

	c.refine(stream)

	c.mu.Lock()
	if c.active != nil {
		// Lost the race to another start; keep the existing session.
		c.mu.Unlock()
		stopTracks(stream)
		return domain.ErrCaptureActive
	}
	c.active = stream
	onStream := c.onStream
	c.mu.Unlock()

	c.logger.Infow("capture session started", "stream_id", stream.ID())
	if onStream != nil {
		onStream(stream)
	}
	return nil
}

// refine applies the tighter constraint pass and the detail content hint to
// the primary video track. Failures are logged only.
func (c *CaptureController) refine(stream ports.MediaStream) {
	videos := stream.VideoTracks()
	if len(videos) == 0 {
		return
	}
	track := videos[0]
	if err := track.ApplyConstraints(c.refinement); err != nil {
		c.logger.Warnw("failed to apply video constraints", "track_id", track.ID(), "error", err)
	}
	if err := track.SetContentHint(domain.ContentHintDetail); err != nil {
		c.logger.Warnw("failed to set content hint", "track_id", track.ID(), "error", err)
	}
}

// Stop stops every track of the active stream and releases the session.
// Idempotent.
func (c *CaptureController) Stop() {
	c.mu.Lock()
	stream := c.active
	c.active = nil
	onStopped := c.onStopped
	c.mu.Unlock()

	if stream == nil {
		return
	}
	stopTracks(stream)
	c.logger.Infow("capture session stopped", "stream_id", stream.ID())
	if onStopped != nil {
		onStopped()
	}
}

// Active returns the live stream, or nil.
func (c *CaptureController) Active() ports.MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func stopTracks(stream ports.MediaStream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}
