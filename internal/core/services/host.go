package services

import (
	"context"
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"
	"peercast/pkg/backoff"

	"go.uber.org/zap"
)

// Host wires the host role end to end: identity session, viewer registry,
// capture controller and call fan-out.
type Host struct {
	Session  *SessionManager
	Registry *Registry
	Capture  *CaptureController
	Fanout   *Fanout

	notifier ports.Notifier
	onReady  func(id domain.PeerID)

	mu    sync.Mutex
	ended bool

	logger *zap.SugaredLogger
}

// HostDeps collects the host's collaborators.
type HostDeps struct {
	Broker   ports.Broker
	Device   ports.CaptureDevice
	Notifier ports.Notifier
	Metrics  ports.Metrics
	Sched    ports.Scheduler

	ICE         domain.ICEConfig
	Policy      backoff.Policy
	Constraints domain.CaptureConstraints
	Refinement  domain.TrackConstraints

	// TransformSDP rewrites outgoing media offers, e.g. to raise the video
	// bitrate ceiling.
	TransformSDP func(string) string

	// OnReady observes identity assignment, e.g. to print the room code.
	OnReady func(id domain.PeerID)

	Logger *zap.SugaredLogger
}

// NewHost assembles the host role.
func NewHost(deps HostDeps) *Host {
	h := &Host{
		notifier: deps.Notifier,
		onReady:  deps.OnReady,
		logger:   deps.Logger,
	}

	h.Registry = NewRegistry(deps.Metrics, deps.Logger)
	h.Capture = NewCaptureController(deps.Device, deps.Notifier, deps.Constraints, deps.Refinement, deps.Logger)

	h.Session = NewSessionManager(
		deps.Broker,
		deps.Notifier,
		deps.Metrics,
		deps.Sched,
		deps.ICE,
		deps.Policy,
		SessionEvents{
			OnReady: func(id domain.PeerID) {
				h.logger.Infow("room open", "room_id", id)
				if h.onReady != nil {
					h.onReady(id)
				}
			},
			OnConnection: func(conn ports.DataConn) {
				h.Registry.Bind(conn)
			},
		},
		deps.Logger,
	)

	h.Fanout = NewFanout(h.Session, h.Registry, h.Capture, deps.Notifier, deps.Metrics, deps.TransformSDP, deps.Logger)
	return h
}

// Start opens the identity session; the room code arrives via OnReady.
func (h *Host) Start(ctx context.Context) error {
	return h.Session.Open(ctx)
}

// RoomID returns the current room identifier, empty until the session opens.
func (h *Host) RoomID() domain.PeerID {
	return h.Session.ID()
}

// StartSharing begins the capture session directly, outside the prompt flow.
func (h *Host) StartSharing(ctx context.Context) error {
	return h.Capture.Start(ctx)
}

// EndSession is the single externally triggered teardown path: it cancels
// pending timers, closes every call, stops all local tracks, destroys the
// identity session and clears the registry. Idempotent.
func (h *Host) EndSession() {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return
	}
	h.ended = true
	h.mu.Unlock()

	h.Fanout.CloseAll()
	h.Capture.Stop()
	h.Session.Close()
	h.Registry.Clear()

	h.notifier.Notify(domain.Notification{
		Title:   "Session ended",
		Message: "Screen sharing has stopped and all viewers were disconnected.",
		Variant: domain.NotificationInfo,
	})
	h.logger.Infow("session ended")
}
