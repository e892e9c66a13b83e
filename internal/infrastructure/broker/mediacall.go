package broker

import (
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// outboundCall carries the host's capture stream to one viewer. Answer is a
// no-op; the negotiation completes when the viewer's answer arrives.
type outboundCall struct {
	id     domain.ConnectionID
	remote domain.PeerID
	sess   *session
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	lifecycle domain.ConnLifecycle
	onStream  func(ports.MediaStream)
	onError   func(error)
	onClose   func()

	logger *zap.SugaredLogger
}

func newOutboundCall(id domain.ConnectionID, remote domain.PeerID, pc *webrtc.PeerConnection, sess *session, logger *zap.SugaredLogger) *outboundCall {
	return &outboundCall{
		id:     id,
		remote: remote,
		pc:     pc,
		sess:   sess,
		logger: logger,
	}
}

func (c *outboundCall) RemoteID() domain.PeerID { return c.remote }

func (c *outboundCall) Answer() error { return nil }

func (c *outboundCall) OnStream(f func(ports.MediaStream)) {
	c.mu.Lock()
	c.onStream = f
	c.mu.Unlock()
}

func (c *outboundCall) OnError(f func(error)) { c.mu.Lock(); c.onError = f; c.mu.Unlock() }
func (c *outboundCall) OnClose(f func())      { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }

func (c *outboundCall) Close() error {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.sess.dropLink(c.id, true)
	return c.pc.Close()
}

func (c *outboundCall) fail(cause error) {
	c.mu.Lock()
	if err := c.lifecycle.Fail(); err != nil {
		c.mu.Unlock()
		return
	}
	cb := c.onError
	c.mu.Unlock()

	c.logger.Warnw("media call failed", "connection_id", c.id, "peer_id", c.remote, "error", cause)
	c.sess.dropLink(c.id, false)
	_ = c.pc.Close()
	if cb != nil {
		cb(cause)
	}
}

func (c *outboundCall) remoteClosed() {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return
	}
	cb := c.onClose
	c.mu.Unlock()

	c.logger.Infow("media call closed", "connection_id", c.id, "peer_id", c.remote)
	c.sess.dropLink(c.id, false)
	_ = c.pc.Close()
	if cb != nil {
		cb()
	}
}

func (c *outboundCall) handleAnswer(sdp string) error {
	c.mu.Lock()
	_ = c.lifecycle.MarkOpen()
	c.mu.Unlock()
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (c *outboundCall) addCandidate(init webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

// inboundCall is a media offer awaiting the viewer's Answer. ICE candidates
// arriving before Answer are buffered until the peer connection exists.
type inboundCall struct {
	id       domain.ConnectionID
	remote   domain.PeerID
	offerSDP string
	sess     *session

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	stream     *RemoteStream
	streamSent bool
	buffered   []webrtc.ICECandidateInit
	lifecycle  domain.ConnLifecycle
	onStream   func(ports.MediaStream)
	onError    func(error)
	onClose    func()

	logger *zap.SugaredLogger
}

func newInboundCall(id domain.ConnectionID, remote domain.PeerID, offerSDP string, sess *session, logger *zap.SugaredLogger) *inboundCall {
	return &inboundCall{
		id:       id,
		remote:   remote,
		offerSDP: offerSDP,
		sess:     sess,
		logger:   logger,
	}
}

func (c *inboundCall) RemoteID() domain.PeerID { return c.remote }

func (c *inboundCall) OnStream(f func(ports.MediaStream)) {
	c.mu.Lock()
	c.onStream = f
	c.mu.Unlock()
}

func (c *inboundCall) OnError(f func(error)) { c.mu.Lock(); c.onError = f; c.mu.Unlock() }
func (c *inboundCall) OnClose(f func())      { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }

// Answer accepts the offer: the peer connection is built, buffered ICE
// candidates are applied and the answer goes back through the broker.
func (c *inboundCall) Answer() error {
	pc, err := c.sess.newPeerConnection()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pc = pc
	c.stream = newRemoteStream(string(c.id))
	buffered := c.buffered
	c.buffered = nil
	c.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.sess.watchConnState(state, c.fail, c.remoteClosed)
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.sess.sendCandidate(c.remote, c.id, cand)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  c.offerSDP,
	}); err != nil {
		return err
	}
	for _, init := range buffered {
		if err := pc.AddICECandidate(init); err != nil {
			c.logger.Warnw("failed to add buffered candidate", "connection_id", c.id, "error", err)
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}

	c.mu.Lock()
	_ = c.lifecycle.MarkOpen()
	c.mu.Unlock()

	return c.sess.sendSignal(MessageAnswer, c.remote, AnswerPayload{
		ConnectionID: c.id,
		SDP:          answer.SDP,
	})
}

// handleTrack folds a new remote track into the call's stream. The stream is
// published to OnStream once, on the first track.
func (c *inboundCall) handleTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	remote := newRemoteTrack(track, c.pc)
	c.stream.addTrack(remote)
	first := !c.streamSent
	c.streamSent = true
	stream := c.stream
	cb := c.onStream
	c.mu.Unlock()

	c.logger.Infow("remote track arrived",
		"connection_id", c.id,
		"track_id", track.ID(),
		"kind", track.Kind().String(),
	)
	if first && cb != nil {
		cb(stream)
	}
}

func (c *inboundCall) Close() error {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return nil
	}
	pc := c.pc
	c.mu.Unlock()

	c.sess.dropLink(c.id, true)
	c.endTracks()
	if pc != nil {
		return pc.Close()
	}
	return nil
}

func (c *inboundCall) fail(cause error) {
	c.mu.Lock()
	if err := c.lifecycle.Fail(); err != nil {
		c.mu.Unlock()
		return
	}
	pc := c.pc
	cb := c.onError
	c.mu.Unlock()

	c.logger.Warnw("inbound call failed", "connection_id", c.id, "peer_id", c.remote, "error", cause)
	c.sess.dropLink(c.id, false)
	c.endTracks()
	if pc != nil {
		_ = pc.Close()
	}
	if cb != nil {
		cb(cause)
	}
}

func (c *inboundCall) remoteClosed() {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return
	}
	pc := c.pc
	cb := c.onClose
	c.mu.Unlock()

	c.logger.Infow("inbound call closed", "connection_id", c.id, "peer_id", c.remote)
	c.sess.dropLink(c.id, false)
	c.endTracks()
	if pc != nil {
		_ = pc.Close()
	}
	if cb != nil {
		cb()
	}
}

func (c *inboundCall) endTracks() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		if rt, ok := t.(*RemoteTrack); ok {
			rt.markEnded()
		}
	}
}

func (c *inboundCall) handleAnswer(string) error {
	// Inbound calls never send offers; a stray answer is a protocol error.
	return domain.ErrConnTerminal
}

func (c *inboundCall) addCandidate(init webrtc.ICECandidateInit) error {
	c.mu.Lock()
	pc := c.pc
	if pc == nil {
		c.buffered = append(c.buffered, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return pc.AddICECandidate(init)
}
