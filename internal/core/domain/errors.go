package domain

import "errors"

// Sentinel error messages mirror what the broker puts on the wire; the
// transient classifier matches on them, so keep the phrasing stable.
var (
	ErrBrokerUnreachable = errors.New("could not connect to peer broker")
	ErrLostServerLink    = errors.New("lost connection to server")
	ErrSocketClosed      = errors.New("socket closed")
	ErrPeerUnavailable   = errors.New("could not connect to peer")

	ErrCaptureDenied    = errors.New("capture denied or cancelled")
	ErrCaptureActive    = errors.New("capture session already active")
	ErrSessionDestroyed = errors.New("identity session destroyed")
	ErrConnTerminal     = errors.New("connection already closed")
	ErrAutoplayBlocked  = errors.New("playback blocked by autoplay policy")

	ErrEmptyRoomCode   = errors.New("room code is required")
	ErrInvalidRoomCode = errors.New("invalid room code")
)
