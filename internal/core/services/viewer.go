package services

import (
	"context"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"
	"peercast/pkg/backoff"
	"peercast/pkg/share"
	"peercast/pkg/validation"

	"go.uber.org/zap"
)

// Viewer wires the viewer role: room join, stream acceptance and playback
// negotiation. Connection-level failures re-enter the shared reconnect
// protocol against the same room identifier.
type Viewer struct {
	Session  *SessionManager
	Acceptor *Acceptor
	Playback *PlaybackNegotiator

	notifier ports.Notifier

	mu     sync.Mutex
	room   domain.PeerID
	conn   ports.DataConn
	leftBy bool // self-initiated close

	logger *zap.SugaredLogger
}

// ViewerDeps collects the viewer's collaborators.
type ViewerDeps struct {
	Broker       ports.Broker
	Player       ports.Player
	Notifier     ports.Notifier
	Metrics      ports.Metrics
	Sched        ports.Scheduler
	Interactions *InteractionTracker

	ICE            domain.ICEConfig
	Policy         backoff.Policy
	ArrivalTimeout time.Duration

	Logger *zap.SugaredLogger
}

// NewViewer assembles the viewer role.
func NewViewer(deps ViewerDeps) *Viewer {
	v := &Viewer{
		notifier: deps.Notifier,
		logger:   deps.Logger,
	}

	v.Session = NewSessionManager(
		deps.Broker,
		deps.Notifier,
		deps.Metrics,
		deps.Sched,
		deps.ICE,
		deps.Policy,
		SessionEvents{
			OnReady: func(domain.PeerID) { v.connect() },
			OnCall:  func(call ports.MediaCall) { v.Acceptor.HandleCall(call) },
		},
		deps.Logger,
	)

	v.Acceptor = NewAcceptor(
		deps.Notifier,
		deps.Metrics,
		deps.Sched,
		deps.ArrivalTimeout,
		v.Session.Reconnecting,
		deps.Logger,
	)

	v.Playback = NewPlaybackNegotiator(deps.Player, deps.Notifier, deps.Interactions, deps.Logger)
	v.Acceptor.SetHandlers(v.Playback.HandleStream, v.Playback.HandleCleared)

	return v
}

// Join validates the room input (bare code or pasted join URL) before any
// network attempt, then opens the identity session; the data channel to the
// host is established once the identity is assigned.
func (v *Viewer) Join(ctx context.Context, input string) error {
	code := share.ParseRoomInput(input)
	if err := validation.ValidateRoomCode(code); err != nil {
		v.notifier.Notify(domain.Notification{
			Title:   "Room code required",
			Message: "Please enter a valid room code to join the session.",
			Variant: domain.NotificationDestructive,
		})
		return domain.ErrInvalidRoomCode
	}

	v.mu.Lock()
	v.room = domain.PeerID(validation.NormalizeRoomCode(code))
	v.leftBy = false
	v.mu.Unlock()

	return v.Session.Open(ctx)
}

// connect (re)establishes the data channel to the host. Runs on every
// identity assignment, which keeps reconnects targeting the same room.
func (v *Viewer) connect() {
	v.mu.Lock()
	room := v.room
	v.mu.Unlock()
	if room == "" {
		return
	}

	conn, err := v.Session.Connect(room)
	if err != nil {
		v.logger.Errorw("failed to connect to room", "room_id", room, "error", err)
		v.Session.HandleTransient(err)
		return
	}

	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()

	conn.OnOpen(func() {
		v.logger.Infow("connected to room", "room_id", room)
		v.notifier.Notify(domain.Notification{
			Title:   "Connected",
			Message: "Connected! Waiting for the host to share their screen...",
			Variant: domain.NotificationInfo,
		})
	})
	conn.OnError(func(err error) {
		v.logger.Warnw("room connection error", "room_id", room, "error", err)
		v.Session.HandleTransient(err)
	})
	conn.OnClose(func() {
		v.handleConnClosed(room)
	})
}

// handleConnClosed distinguishes a self-initiated leave from the host or
// network dropping the channel; only the latter re-enters the reconnect
// protocol.
func (v *Viewer) handleConnClosed(room domain.PeerID) {
	v.mu.Lock()
	self := v.leftBy
	v.mu.Unlock()
	if self {
		return
	}

	v.logger.Warnw("room connection closed", "room_id", room)
	v.notifier.Notify(domain.Notification{
		Title:   "Disconnected",
		Message: "Connection with the host has been closed.",
		Variant: domain.NotificationDestructive,
	})
	v.Session.HandleTransient(domain.ErrSocketClosed)
}

// Room returns the joined room identifier.
func (v *Viewer) Room() domain.PeerID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.room
}

// Leave tears down the viewer: the data channel close is marked
// self-initiated so no reconnect chain starts, pending timers are cancelled
// and the identity session is destroyed. Idempotent.
func (v *Viewer) Leave() {
	v.mu.Lock()
	v.leftBy = true
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	v.Acceptor.Close()
	v.Playback.HandleCleared()
	v.Session.Close()
	v.logger.Infow("left room")
}
