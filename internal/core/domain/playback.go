package domain

// PlaybackState is the viewer-side reconciliation of the remote stream with
// the autoplay-permission state. Muted defaults to true: muted playback is
// the only starting point the autoplay policy always allows.
// PendingUserInteraction latches when an unmuted play attempt is rejected and
// clears only on an explicit user gesture.
type PlaybackState struct {
	HasRemoteStream            bool
	Muted                      bool
	UserHasInteractedWithPage  bool
	PendingUserInteraction     bool
}

// NewPlaybackState returns the initial state before any stream arrives.
func NewPlaybackState() PlaybackState {
	return PlaybackState{Muted: true}
}
