package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the signaling client settings.
type Config struct {
	URL          string
	WriteTimeout time.Duration
	Heartbeat    time.Duration
}

// Broker implements ports.Broker over the websocket signaling protocol and
// pion peer connections.
type Broker struct {
	cfg    Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

// New creates a broker client factory.
func New(cfg Config, logger *zap.SugaredLogger) *Broker {
	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return &Broker{
		cfg:    cfg,
		api:    api,
		logger: logger,
	}
}

// Open dials the signaling server and starts a fresh identity session. The
// assigned identity arrives asynchronously through the open handler.
func (b *Broker) Open(ctx context.Context, ice domain.ICEConfig, h ports.SessionHandlers) (ports.IdentitySession, error) {
	s := &session{
		broker:    b,
		handlers:  h,
		rtcConfig: buildRTCConfig(ice),
		links:     make(map[domain.ConnectionID]*linkEntry),
		pending:   make(map[domain.ConnectionID][]webrtc.ICECandidateInit),
		logger:    b.logger,
	}

	client, err := dialBroker(ctx, b.cfg.URL, "", b.cfg.WriteTimeout, b.cfg.Heartbeat, b.logger)
	if err != nil {
		return nil, err
	}
	s.client = client
	client.onMessage = s.handleMessage
	client.onDisconnect = s.handleLinkDown
	client.run()

	return s, nil
}

// buildRTCConfig maps the domain ICE configuration onto pion's.
func buildRTCConfig(ice domain.ICEConfig) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICECandidatePoolSize: uint8(ice.CandidatePoolSize),
	}
	if len(ice.STUNURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: ice.STUNURLs}}
	}

	switch ice.BundlePolicy {
	case "max-bundle":
		cfg.BundlePolicy = webrtc.BundlePolicyMaxBundle
	case "max-compat":
		cfg.BundlePolicy = webrtc.BundlePolicyMaxCompat
	default:
		cfg.BundlePolicy = webrtc.BundlePolicyBalanced
	}
	if ice.RTCPMuxPolicy == "require" {
		cfg.RTCPMuxPolicy = webrtc.RTCPMuxPolicyRequire
	} else {
		cfg.RTCPMuxPolicy = webrtc.RTCPMuxPolicyNegotiate
	}
	if ice.SDPSemantics == "plan-b" {
		cfg.SDPSemantics = webrtc.SDPSemanticsPlanB
	} else {
		cfg.SDPSemantics = webrtc.SDPSemanticsUnifiedPlan
	}
	return cfg
}

// linkEntry pairs a negotiated connection with its remote identity for
// teardown signaling.
type linkEntry struct {
	remote domain.PeerID
	link   negotiated
}

// negotiated is the common surface of data connections and media calls for
// signaling dispatch.
type negotiated interface {
	handleAnswer(sdp string) error
	addCandidate(init webrtc.ICECandidateInit) error
	remoteClosed()
	fail(cause error)
	Close() error
}

// session is one live broker identity with its peer connections.
type session struct {
	broker    *Broker
	handlers  ports.SessionHandlers
	rtcConfig webrtc.Configuration

	mu           sync.Mutex
	client       *wsClient
	id           domain.PeerID
	disconnected bool
	destroyed    bool
	links        map[domain.ConnectionID]*linkEntry
	pending      map[domain.ConnectionID][]webrtc.ICECandidateInit

	logger *zap.SugaredLogger
}

func (s *session) ID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Connect opens an outbound data channel to a remote identity, offer first.
func (s *session) Connect(remote domain.PeerID) (ports.DataConn, error) {
	if s.Destroyed() {
		return nil, domain.ErrSessionDestroyed
	}
	pc, err := s.newPeerConnection()
	if err != nil {
		return nil, err
	}

	connID := domain.ConnectionID(uuid.New().String())
	conn := newDataConn(connID, remote, pc, s, s.logger)

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	conn.attach(dc)
	s.registerLink(connID, remote, conn)

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		s.sendCandidate(remote, connID, cand)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.watchConnState(state, conn.fail, conn.remoteClosed)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := s.sendSignal(MessageOffer, remote, OfferPayload{
		ConnectionID: connID,
		Kind:         KindData,
		SDP:          offer.SDP,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	s.logger.Infow("data connection offered", "connection_id", connID, "peer_id", remote)
	return conn, nil
}

// Call offers the local stream to a remote identity. The offer SDP passes
// through opts.TransformSDP before it becomes the local description, so the
// munged form is what both sides negotiate.
func (s *session) Call(remote domain.PeerID, stream ports.MediaStream, opts ports.CallOptions) (ports.MediaCall, error) {
	if s.Destroyed() {
		return nil, domain.ErrSessionDestroyed
	}
	src, ok := stream.(TrackSource)
	if !ok {
		return nil, fmt.Errorf("stream %s carries no sendable tracks", stream.ID())
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		return nil, err
	}

	connID := domain.ConnectionID(uuid.New().String())
	call := newOutboundCall(connID, remote, pc, s, s.logger)

	for _, track := range src.PionTracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go s.drainRTCP(sender)
	}

	s.registerLink(connID, remote, call)
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		s.sendCandidate(remote, connID, cand)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.watchConnState(state, call.fail, call.remoteClosed)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sdp := offer.SDP
	if opts.TransformSDP != nil {
		sdp = opts.TransformSDP(sdp)
	}
	if err := pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := s.sendSignal(MessageOffer, remote, OfferPayload{
		ConnectionID: connID,
		Kind:         KindMedia,
		SDP:          sdp,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	s.logger.Infow("media call offered", "connection_id", connID, "peer_id", remote, "stream_id", stream.ID())
	return call, nil
}

// Reconnect re-dials the signaling server reclaiming the current identity.
// The server confirms with a fresh open message.
func (s *session) Reconnect() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	id := s.id
	old := s.client
	s.mu.Unlock()

	client, err := dialBroker(context.Background(), s.broker.cfg.URL, id, s.broker.cfg.WriteTimeout, s.broker.cfg.Heartbeat, s.logger)
	if err != nil {
		return err
	}
	if old != nil {
		old.close()
	}

	s.mu.Lock()
	s.client = client
	s.disconnected = false
	s.mu.Unlock()

	client.onMessage = s.handleMessage
	client.onDisconnect = s.handleLinkDown
	client.run()
	return nil
}

// Destroy tears the session down: every connection closes and late events
// are discarded.
func (s *session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	client := s.client
	entries := make([]*linkEntry, 0, len(s.links))
	for _, e := range s.links {
		entries = append(entries, e)
	}
	s.links = make(map[domain.ConnectionID]*linkEntry)
	s.mu.Unlock()

	for _, e := range entries {
		_ = e.link.Close()
	}
	if client != nil {
		client.close()
	}
	if s.handlers.OnClose != nil {
		s.handlers.OnClose()
	}
	s.logger.Infow("identity session destroyed", "peer_id", s.ID())
}

func (s *session) handleMessage(msg Message) {
	if s.Destroyed() {
		return
	}
	switch msg.Type {
	case MessageOpen:
		var p OpenPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warnw("bad open message", "error", err)
			return
		}
		s.mu.Lock()
		s.id = p.ID
		s.disconnected = false
		s.mu.Unlock()
		if s.handlers.OnOpen != nil {
			s.handlers.OnOpen(p.ID)
		}

	case MessageOffer:
		var p OfferPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warnw("bad offer message", "src", msg.Src, "error", err)
			return
		}
		s.handleOffer(msg.Src, p)

	case MessageAnswer:
		var p AnswerPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warnw("bad answer message", "src", msg.Src, "error", err)
			return
		}
		if link := s.lookupLink(p.ConnectionID); link != nil {
			if err := link.handleAnswer(p.SDP); err != nil {
				s.logger.Warnw("failed to apply answer", "connection_id", p.ConnectionID, "error", err)
				link.fail(err)
			}
		}

	case MessageCandidate:
		var p CandidatePayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warnw("bad candidate message", "src", msg.Src, "error", err)
			return
		}
		init := webrtc.ICECandidateInit{
			Candidate:     p.Candidate,
			SDPMid:        p.SDPMid,
			SDPMLineIndex: p.SDPMLineIndex,
		}
		link := s.lookupLink(p.ConnectionID)
		if link == nil {
			s.bufferCandidate(p.ConnectionID, init)
			return
		}
		if err := link.addCandidate(init); err != nil {
			s.logger.Warnw("failed to add candidate", "connection_id", p.ConnectionID, "error", err)
		}

	case MessageLeave:
		var p LeavePayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		if link := s.lookupLink(p.ConnectionID); link != nil {
			link.remoteClosed()
		}

	case MessageError:
		var p ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		s.logger.Warnw("broker reported error", "message", p.Message)
		if s.handlers.OnError != nil {
			s.handlers.OnError(errors.New(p.Message))
		}

	default:
		s.logger.Debugw("ignoring unknown message", "type", msg.Type, "src", msg.Src)
	}
}

// handleOffer accepts an inbound connection of either kind.
func (s *session) handleOffer(src domain.PeerID, p OfferPayload) {
	switch p.Kind {
	case KindData:
		if err := s.acceptDataOffer(src, p); err != nil {
			s.logger.Errorw("failed to accept data offer", "connection_id", p.ConnectionID, "peer_id", src, "error", err)
		}
	case KindMedia:
		call := newInboundCall(p.ConnectionID, src, p.SDP, s, s.logger)
		s.registerLink(p.ConnectionID, src, call)
		if s.handlers.OnCall != nil {
			s.handlers.OnCall(call)
		}
	default:
		s.logger.Warnw("offer with unknown kind", "kind", p.Kind, "peer_id", src)
	}
}

// acceptDataOffer answers an inbound data connection. The connection is
// surfaced before the channel opens so callers can wire handlers in time.
func (s *session) acceptDataOffer(src domain.PeerID, p OfferPayload) error {
	pc, err := s.newPeerConnection()
	if err != nil {
		return err
	}

	conn := newDataConn(p.ConnectionID, src, pc, s, s.logger)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		conn.attach(dc)
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		s.sendCandidate(src, p.ConnectionID, cand)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.watchConnState(state, conn.fail, conn.remoteClosed)
	})
	s.registerLink(p.ConnectionID, src, conn)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}); err != nil {
		_ = pc.Close()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return err
	}
	if err := s.sendSignal(MessageAnswer, src, AnswerPayload{
		ConnectionID: p.ConnectionID,
		SDP:          answer.SDP,
	}); err != nil {
		_ = pc.Close()
		return err
	}

	if s.handlers.OnConnection != nil {
		s.handlers.OnConnection(conn)
	}
	return nil
}

// handleLinkDown marks the session interrupted. The session object stays
// usable for an in-place Reconnect.
func (s *session) handleLinkDown(err error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.disconnected = true
	s.mu.Unlock()

	s.logger.Warnw("broker link lost", "error", err)
	if s.handlers.OnDisconnected != nil {
		s.handlers.OnDisconnected()
	}
}

func (s *session) newPeerConnection() (*webrtc.PeerConnection, error) {
	return s.broker.api.NewPeerConnection(s.rtcConfig)
}

// watchConnState maps peer connection state to the single teardown path.
func (s *session) watchConnState(state webrtc.PeerConnectionState, fail func(error), closed func()) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		fail(domain.ErrPeerUnavailable)
	case webrtc.PeerConnectionStateClosed:
		closed()
	}
}

func (s *session) registerLink(id domain.ConnectionID, remote domain.PeerID, link negotiated) {
	s.mu.Lock()
	s.links[id] = &linkEntry{remote: remote, link: link}
	buffered := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	for _, init := range buffered {
		if err := link.addCandidate(init); err != nil {
			s.logger.Warnw("failed to add early candidate", "connection_id", id, "error", err)
		}
	}
}

func (s *session) lookupLink(id domain.ConnectionID) negotiated {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.links[id]; ok {
		return e.link
	}
	return nil
}

// bufferCandidate holds candidates that outran their offer.
func (s *session) bufferCandidate(id domain.ConnectionID, init webrtc.ICECandidateInit) {
	s.mu.Lock()
	s.pending[id] = append(s.pending[id], init)
	s.mu.Unlock()
}

// dropLink forgets a connection; when the teardown is local the remote side
// is told to release its end.
func (s *session) dropLink(id domain.ConnectionID, notifyRemote bool) {
	s.mu.Lock()
	entry, ok := s.links[id]
	if ok {
		delete(s.links, id)
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if ok && notifyRemote {
		if err := s.sendSignal(MessageLeave, entry.remote, LeavePayload{ConnectionID: id}); err != nil {
			s.logger.Debugw("leave message not delivered", "connection_id", id, "error", err)
		}
	}
}

func (s *session) sendSignal(t MessageType, dst domain.PeerID, payload interface{}) error {
	msg, err := NewMessage(t, dst, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return domain.ErrLostServerLink
	}
	return client.send(msg)
}

func (s *session) sendCandidate(dst domain.PeerID, id domain.ConnectionID, cand *webrtc.ICECandidate) {
	if cand == nil {
		return
	}
	init := cand.ToJSON()
	err := s.sendSignal(MessageCandidate, dst, CandidatePayload{
		ConnectionID:  id,
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
	if err != nil {
		s.logger.Debugw("candidate not delivered", "connection_id", id, "error", err)
	}
}

// drainRTCP keeps the sender's RTCP path flowing so congestion feedback and
// keyframe requests reach the interceptors.
func (s *session) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			if pli, ok := pkt.(*rtcp.PictureLossIndication); ok {
				s.logger.Debugw("keyframe requested by remote", "ssrc", pli.MediaSSRC)
			}
		}
	}
}
