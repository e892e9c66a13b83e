package services

import (
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"go.uber.org/zap"
)

// Acceptor answers the host's inbound media call on the viewer side and
// publishes the remote stream. A call that produces no stream within the
// arrival window surfaces a non-fatal notification: the host simply has not
// started sharing yet.
type Acceptor struct {
	notifier ports.Notifier
	metrics  ports.Metrics
	sched    ports.Scheduler
	timeout  time.Duration

	// reconnecting suppresses the no-stream notification while a reconnect
	// chain is in flight.
	reconnecting func() bool

	mu      sync.Mutex
	call    ports.MediaCall
	active  ports.MediaStream
	arrival ports.Timer

	onStream  func(stream ports.MediaStream)
	onCleared func()

	logger *zap.SugaredLogger
}

// NewAcceptor creates a viewer-side stream acceptor. sched and metrics may
// be nil; reconnecting may be nil when no reconnect coupling is wanted.
func NewAcceptor(
	notifier ports.Notifier,
	metrics ports.Metrics,
	sched ports.Scheduler,
	timeout time.Duration,
	reconnecting func() bool,
	logger *zap.SugaredLogger,
) *Acceptor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if sched == nil {
		sched = ports.SystemScheduler()
	}
	if reconnecting == nil {
		reconnecting = func() bool { return false }
	}
	return &Acceptor{
		notifier:     notifier,
		metrics:      metrics,
		sched:        sched,
		timeout:      timeout,
		reconnecting: reconnecting,
		logger:       logger,
	}
}

// SetHandlers registers the stream publication observers.
func (a *Acceptor) SetHandlers(onStream func(ports.MediaStream), onCleared func()) {
	a.mu.Lock()
	a.onStream = onStream
	a.onCleared = onCleared
	a.mu.Unlock()
}

// HandleCall answers an inbound media call unconditionally and arms the
// stream-arrival timeout.
func (a *Acceptor) HandleCall(call ports.MediaCall) {
	if err := call.Answer(); err != nil {
		a.logger.Errorw("failed to answer call", "peer_id", call.RemoteID(), "error", err)
		return
	}

	a.mu.Lock()
	a.call = call
	a.cancelArrivalLocked()
	a.arrival = a.sched.AfterFunc(a.timeout, a.handleArrivalTimeout)
	a.mu.Unlock()

	call.OnStream(a.handleStream)
	call.OnError(func(err error) {
		a.logger.Errorw("media call error", "peer_id", call.RemoteID(), "error", err)
		a.notifier.Notify(domain.Notification{
			Title:   "Stream error",
			Message: "The connection to the host's stream failed.",
			Variant: domain.NotificationDestructive,
		})
	})
	call.OnClose(func() {
		a.clearStream()
	})

	a.logger.Infow("answered inbound call", "peer_id", call.RemoteID())
}

func (a *Acceptor) handleArrivalTimeout() {
	a.mu.Lock()
	pending := a.active == nil
	a.mu.Unlock()

	if !pending || a.reconnecting() {
		return
	}
	a.logger.Infow("no stream within arrival window")
	a.notifier.Notify(domain.Notification{
		Title:   "No stream yet",
		Message: "Connected, but the host has not started sharing their screen.",
		Variant: domain.NotificationInfo,
	})
}

func (a *Acceptor) handleStream(stream ports.MediaStream) {
	a.mu.Lock()
	a.cancelArrivalLocked()
	a.active = stream
	onStream := a.onStream
	a.mu.Unlock()

	// Best effort: bias the decoder toward sharpness over motion.
	if videos := stream.VideoTracks(); len(videos) > 0 {
		if err := videos[0].SetContentHint(domain.ContentHintDetail); err != nil {
			a.logger.Warnw("failed to set content hint", "track_id", videos[0].ID(), "error", err)
		}
	}

	a.metrics.StreamReceived()
	a.logger.Infow("remote stream received", "stream_id", stream.ID())
	if onStream != nil {
		onStream(stream)
	}
}

func (a *Acceptor) clearStream() {
	a.mu.Lock()
	had := a.active != nil
	a.active = nil
	a.cancelArrivalLocked()
	onCleared := a.onCleared
	a.mu.Unlock()

	if had {
		a.logger.Infow("remote stream cleared")
	}
	if onCleared != nil {
		onCleared()
	}
}

// Stream returns the published remote stream, or nil.
func (a *Acceptor) Stream() ports.MediaStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Close cancels the arrival timer and drops the published stream.
func (a *Acceptor) Close() {
	a.mu.Lock()
	a.cancelArrivalLocked()
	a.active = nil
	call := a.call
	a.call = nil
	a.mu.Unlock()
	if call != nil {
		_ = call.Close()
	}
}

func (a *Acceptor) cancelArrivalLocked() {
	if a.arrival != nil {
		a.arrival.Stop()
		a.arrival = nil
	}
}
