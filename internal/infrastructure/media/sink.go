package media

import (
	"errors"
	"io"
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// InteractionSource reports whether a user gesture has been observed.
type InteractionSource interface {
	HasInteracted() bool
}

// keyframeRequester is implemented by remote tracks that can ask the sender
// for a fresh keyframe.
type keyframeRequester interface {
	RequestKeyFrame() error
}

// rtpSource is implemented by remote tracks backed by a live RTP reader.
type rtpSource interface {
	ReadPacket() ([]byte, error)
}

// Sink implements ports.Player over remote tracks. It enforces the autoplay
// policy: unmuted playback needs a prior user gesture.
type Sink struct {
	mu           sync.Mutex
	stream       ports.MediaStream
	muted        bool
	paused       bool
	done         chan struct{}
	interactions InteractionSource
	logger       *zap.SugaredLogger
}

func NewSink(interactions InteractionSource, logger *zap.SugaredLogger) *Sink {
	return &Sink{
		muted:        true,
		paused:       true,
		interactions: interactions,
		logger:       logger,
	}
}

// Attach binds a remote stream and starts draining its tracks. Playback
// state is not touched; callers drive Play separately.
func (s *Sink) Attach(stream ports.MediaStream) {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
	}
	s.stream = stream
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	for _, track := range stream.Tracks() {
		if kr, ok := track.(keyframeRequester); ok {
			if err := kr.RequestKeyFrame(); err != nil {
				s.logger.Debugw("keyframe request failed", "track_id", track.ID(), "error", err)
			}
		}
		if src, ok := track.(rtpSource); ok {
			go s.drain(track.ID(), src, done)
		}
	}
	s.logger.Infow("stream attached", "stream_id", stream.ID())
}

// drain keeps the track's RTP flowing. Rendering is out of scope for a
// headless sink; reading keeps jitter buffers and RTCP feedback alive.
func (s *Sink) drain(trackID string, src rtpSource, done chan struct{}) {
	var pkt rtp.Packet
	var packets uint64
	for {
		select {
		case <-done:
			return
		default:
		}
		buf, err := src.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debugw("track read ended", "track_id", trackID, "error", err, "packets", packets)
			}
			return
		}
		if err := pkt.Unmarshal(buf); err != nil {
			s.logger.Debugw("dropping malformed packet", "track_id", trackID, "error", err)
			continue
		}
		packets++
	}
}

func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.stream = nil
	s.paused = true
}

func (s *Sink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return domain.ErrConnTerminal
	}
	if !s.muted && !s.interactions.HasInteracted() {
		return domain.ErrAutoplayBlocked
	}
	s.paused = false
	return nil
}

func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *Sink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Sink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}
