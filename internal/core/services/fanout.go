package services

import (
	"context"
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"go.uber.org/zap"
)

// Caller opens outbound media calls; satisfied by SessionManager.
type Caller interface {
	Call(remote domain.PeerID, stream ports.MediaStream, opts ports.CallOptions) (ports.MediaCall, error)
}

// Fanout keeps one live media call per registered viewer while a capture
// session is active. Reconciliation restores the invariant that the set of
// live calls equals the registry membership, and is triggered on every
// registry or capture change.
type Fanout struct {
	caller   Caller
	registry *Registry
	capture  *CaptureController
	notifier ports.Notifier
	metrics  ports.Metrics

	sdpTransform func(sdp string) string

	mu       sync.Mutex
	calls    map[domain.PeerID]ports.MediaCall
	prompted bool

	logger *zap.SugaredLogger
}

// NewFanout wires the fan-out to the registry and capture controller and
// subscribes to their changes.
func NewFanout(
	caller Caller,
	registry *Registry,
	capture *CaptureController,
	notifier ports.Notifier,
	metrics ports.Metrics,
	sdpTransform func(string) string,
	logger *zap.SugaredLogger,
) *Fanout {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	f := &Fanout{
		caller:       caller,
		registry:     registry,
		capture:      capture,
		notifier:     notifier,
		metrics:      metrics,
		sdpTransform: sdpTransform,
		calls:        make(map[domain.PeerID]ports.MediaCall),
		logger:       logger,
	}
	registry.Watch(f.Reconcile)
	capture.SetHandlers(f.handleStreamStarted, f.handleStreamStopped)
	return f
}

// Reconcile restores the calls-equals-registry invariant. With no active
// capture and viewers waiting, it surfaces the persistent start-sharing
// prompt instead.
func (f *Fanout) Reconcile() {
	stream := f.capture.Active()
	if stream == nil {
		f.closeStrayCalls(nil)
		f.maybePromptToShare()
		return
	}

	f.mu.Lock()
	f.prompted = false
	f.mu.Unlock()

	want := make(map[domain.PeerID]struct{})
	for _, id := range f.registry.Peers() {
		want[id] = struct{}{}
		f.ensureCall(id, stream)
	}
	f.closeStrayCalls(want)
}

// ensureCall opens a media call to id if none is live yet.
func (f *Fanout) ensureCall(id domain.PeerID, stream ports.MediaStream) {
	f.mu.Lock()
	if _, ok := f.calls[id]; ok {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	call, err := f.caller.Call(id, stream, ports.CallOptions{TransformSDP: f.sdpTransform})
	if err != nil {
		f.logger.Warnw("failed to open media call", "peer_id", id, "error", err)
		return
	}

	f.mu.Lock()
	if _, ok := f.calls[id]; ok {
		f.mu.Unlock()
		_ = call.Close()
		return
	}
	f.calls[id] = call
	f.mu.Unlock()

	call.OnError(func(err error) {
		f.logger.Warnw("media call error", "peer_id", id, "error", err)
		f.dropCall(id)
	})
	call.OnClose(func() {
		f.dropCall(id)
	})

	f.metrics.CallOpened()
	f.logger.Infow("media call opened", "peer_id", id, "stream_id", stream.ID())
}

// closeStrayCalls closes calls to identities not in want. A nil want closes
// everything.
func (f *Fanout) closeStrayCalls(want map[domain.PeerID]struct{}) {
	f.mu.Lock()
	var stray []domain.PeerID
	for id := range f.calls {
		if _, ok := want[id]; !ok {
			stray = append(stray, id)
		}
	}
	f.mu.Unlock()
	for _, id := range stray {
		f.closeCall(id)
	}
}

// closeCall closes and forgets one call. Idempotent.
func (f *Fanout) closeCall(id domain.PeerID) {
	f.mu.Lock()
	call, ok := f.calls[id]
	if ok {
		delete(f.calls, id)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	_ = call.Close()
	f.metrics.CallClosed()
	f.logger.Infow("media call closed", "peer_id", id)
}

// dropCall forgets a call that closed remotely.
func (f *Fanout) dropCall(id domain.PeerID) {
	f.mu.Lock()
	_, ok := f.calls[id]
	if ok {
		delete(f.calls, id)
	}
	f.mu.Unlock()
	if ok {
		f.metrics.CallClosed()
	}
}

// maybePromptToShare surfaces the persistent start-sharing notification once
// per waiting period while viewers are registered and nothing is captured.
func (f *Fanout) maybePromptToShare() {
	if f.registry.Len() == 0 {
		f.mu.Lock()
		f.prompted = false
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	if f.prompted {
		f.mu.Unlock()
		return
	}
	f.prompted = true
	f.mu.Unlock()

	f.notifier.Notify(domain.Notification{
		Title:   "New viewer connected",
		Message: "Click to start sharing your screen.",
		Variant: domain.NotificationInfo,
		Sticky:  true,
		Action: &domain.NotificationAction{
			Label: "Start sharing",
			Invoke: func() {
				_ = f.capture.Start(context.Background())
			},
		},
	})
}

// handleStreamStarted runs when capture comes up: reconcile, then watch the
// primary track so its end tears down every call and stops every local
// track. That observer is the sole local-driven teardown path.
func (f *Fanout) handleStreamStarted(stream ports.MediaStream) {
	tracks := stream.Tracks()
	if len(tracks) > 0 {
		tracks[0].OnEnded(func() {
			f.logger.Infow("capture track ended, tearing down calls", "stream_id", stream.ID())
			f.CloseAll()
			f.capture.Stop()
		})
	}
	f.Reconcile()
}

// handleStreamStopped runs when capture is released.
func (f *Fanout) handleStreamStopped() {
	f.CloseAll()
}

// CloseAll closes every live call. Registry membership is unaffected.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	ids := make([]domain.PeerID, 0, len(f.calls))
	for id := range f.calls {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		f.closeCall(id)
	}
}

// ActiveCalls returns the identities with a live call, for display and tests.
func (f *Fanout) ActiveCalls() []domain.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PeerID, 0, len(f.calls))
	for id := range f.calls {
		out = append(out, id)
	}
	return out
}
