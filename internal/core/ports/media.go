package ports

import (
	"context"

	"peercast/internal/core/domain"
)

// CaptureDevice acquires a local display-capture stream on demand.
// Acquire returns domain.ErrCaptureDenied (possibly wrapped) when the user
// declines or no capturable surface exists.
type CaptureDevice interface {
	Acquire(ctx context.Context, c domain.CaptureConstraints) (MediaStream, error)
}

// Player renders a remote stream and models the autoplay permission rules:
// Play returns domain.ErrAutoplayBlocked when unmuted playback is attempted
// before any user interaction has been observed.
type Player interface {
	Attach(stream MediaStream)
	Detach()
	Play() error
	Pause()
	Paused() bool
	SetMuted(muted bool)
	Muted() bool
}
