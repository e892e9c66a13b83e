package services

import (
	"errors"
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"go.uber.org/zap"
)

// PlaybackNegotiator reconciles the remote stream with the autoplay
// permission state. Playback always starts muted; an unmuted attempt that
// the policy rejects falls back to muted and latches pending-interaction,
// which only an explicit user gesture clears.
type PlaybackNegotiator struct {
	player       ports.Player
	notifier     ports.Notifier
	interactions *InteractionTracker

	mu          sync.Mutex
	state       domain.PlaybackState
	promptShown bool

	logger *zap.SugaredLogger
}

// NewPlaybackNegotiator wires the negotiator to a player and the page-wide
// interaction tracker.
func NewPlaybackNegotiator(
	player ports.Player,
	notifier ports.Notifier,
	interactions *InteractionTracker,
	logger *zap.SugaredLogger,
) *PlaybackNegotiator {
	return &PlaybackNegotiator{
		player:       player,
		notifier:     notifier,
		interactions: interactions,
		state:        domain.NewPlaybackState(),
		logger:       logger,
	}
}

// HandleStream attaches a newly published remote stream and attempts muted
// playback, the starting point the autoplay policy always allows.
func (p *PlaybackNegotiator) HandleStream(stream ports.MediaStream) {
	p.mu.Lock()
	p.state.HasRemoteStream = true
	p.state.Muted = true
	p.mu.Unlock()

	p.player.Attach(stream)
	p.player.SetMuted(true)
	p.attemptPlay()
}

// HandleCleared detaches on stream loss.
func (p *PlaybackNegotiator) HandleCleared() {
	p.mu.Lock()
	p.state.HasRemoteStream = false
	p.mu.Unlock()
	p.player.Detach()
}

// attemptPlay runs the autoplay negotiation: an unmuted rejection forces
// mute and retries immediately; a muted rejection latches pending
// interaction and surfaces the tap-to-play prompt once.
func (p *PlaybackNegotiator) attemptPlay() {
	err := p.player.Play()
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrAutoplayBlocked) {
		p.logger.Errorw("playback failed", "error", err)
		return
	}

	p.mu.Lock()
	wasMuted := p.state.Muted
	p.state.PendingUserInteraction = true
	if !wasMuted {
		p.state.Muted = true
	}
	p.mu.Unlock()

	if !wasMuted {
		p.logger.Infow("unmuted playback rejected, retrying muted")
		p.player.SetMuted(true)
		if retryErr := p.player.Play(); retryErr == nil {
			return
		}
	}

	p.mu.Lock()
	first := !p.promptShown
	p.promptShown = true
	p.mu.Unlock()

	if first {
		p.notifier.Notify(domain.Notification{
			Title:   "Tap to start playback",
			Message: "Your browser blocked automatic playback. Tap the video to start it.",
			Variant: domain.NotificationInfo,
		})
	}
}

// ToggleMute is the explicit user mute control. It flips muted, resumes a
// paused player when unmuting, and unconditionally records the interaction
// and clears the pending latch, whether or not the resume succeeds.
func (p *PlaybackNegotiator) ToggleMute() {
	p.mu.Lock()
	p.state.Muted = !p.state.Muted
	muted := p.state.Muted
	p.state.PendingUserInteraction = false
	p.mu.Unlock()

	p.interactions.MarkInteracted()
	p.player.SetMuted(muted)

	if !muted && p.player.Paused() {
		if err := p.player.Play(); err != nil {
			p.logger.Warnw("resume after unmute failed", "error", err)
		}
	}
}

// Tap handles a tap on the video surface. While interaction is pending it is
// treated as the unmute gesture; otherwise it only records the interaction.
func (p *PlaybackNegotiator) Tap() {
	p.mu.Lock()
	pending := p.state.PendingUserInteraction
	muted := p.state.Muted
	p.mu.Unlock()

	if pending && muted {
		p.ToggleMute()
		return
	}
	if pending {
		p.mu.Lock()
		p.state.PendingUserInteraction = false
		p.mu.Unlock()
		if p.player.Paused() {
			if err := p.player.Play(); err != nil {
				p.logger.Warnw("resume after tap failed", "error", err)
			}
		}
	}
	p.interactions.MarkInteracted()
}

// State snapshots the playback state, folding in the page-wide interaction
// flag.
func (p *PlaybackNegotiator) State() domain.PlaybackState {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()
	s.UserHasInteractedWithPage = p.interactions.HasInteracted()
	return s
}
