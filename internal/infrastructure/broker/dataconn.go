package broker

import (
	"encoding/json"
	"sync"

	"peercast/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// dataChannelLabel names the single reliable channel per data connection.
const dataChannelLabel = "data"

// dataConn implements ports.DataConn over a pion data channel. The lifecycle
// guard makes error and clean close mutually exclusive, so exactly one
// teardown callback fires per connection.
type dataConn struct {
	id     domain.ConnectionID
	remote domain.PeerID
	sess   *session
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	lifecycle domain.ConnLifecycle
	onOpen    func()
	onData    func([]byte)
	onError   func(error)
	onClose   func()

	logger *zap.SugaredLogger
}

func newDataConn(id domain.ConnectionID, remote domain.PeerID, pc *webrtc.PeerConnection, sess *session, logger *zap.SugaredLogger) *dataConn {
	return &dataConn{
		id:     id,
		remote: remote,
		pc:     pc,
		sess:   sess,
		logger: logger,
	}
}

// attach wires the channel's native events into the connection lifecycle.
func (c *dataConn) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		err := c.lifecycle.MarkOpen()
		cb := c.onOpen
		c.mu.Unlock()
		if err != nil {
			return
		}
		c.logger.Infow("data channel open", "connection_id", c.id, "peer_id", c.remote)
		if cb != nil {
			cb()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		cb := c.onData
		c.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
	dc.OnError(func(err error) {
		c.fail(err)
	})
	dc.OnClose(func() {
		c.remoteClosed()
	})
}

func (c *dataConn) RemoteID() domain.PeerID { return c.remote }

func (c *dataConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle.State() == domain.ConnOpen
}

func (c *dataConn) OnOpen(f func())        { c.mu.Lock(); c.onOpen = f; c.mu.Unlock() }
func (c *dataConn) OnData(f func([]byte))  { c.mu.Lock(); c.onData = f; c.mu.Unlock() }
func (c *dataConn) OnError(f func(error))  { c.mu.Lock(); c.onError = f; c.mu.Unlock() }
func (c *dataConn) OnClose(f func())       { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }

// Send JSON-serializes v onto the channel.
func (c *dataConn) Send(v interface{}) error {
	c.mu.Lock()
	dc := c.dc
	state := c.lifecycle.State()
	c.mu.Unlock()
	if dc == nil || state != domain.ConnOpen {
		return domain.ErrConnTerminal
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// Close tears the connection down locally: the remote side gets a leave
// message, the peer connection is released and no further callbacks fire.
func (c *dataConn) Close() error {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.sess.dropLink(c.id, true)
	return c.pc.Close()
}

// fail runs the error teardown path once.
func (c *dataConn) fail(cause error) {
	c.mu.Lock()
	if err := c.lifecycle.Fail(); err != nil {
		c.mu.Unlock()
		return
	}
	cb := c.onError
	c.mu.Unlock()

	c.logger.Warnw("data channel failed", "connection_id", c.id, "peer_id", c.remote, "error", cause)
	c.sess.dropLink(c.id, false)
	_ = c.pc.Close()
	if cb != nil {
		cb(cause)
	}
}

// remoteClosed runs the clean teardown path once, for closes initiated by
// the remote side or the transport.
func (c *dataConn) remoteClosed() {
	c.mu.Lock()
	if err := c.lifecycle.CloseClean(); err != nil {
		c.mu.Unlock()
		return
	}
	cb := c.onClose
	c.mu.Unlock()

	c.logger.Infow("data channel closed", "connection_id", c.id, "peer_id", c.remote)
	c.sess.dropLink(c.id, false)
	_ = c.pc.Close()
	if cb != nil {
		cb()
	}
}

// handleAnswer completes the outbound negotiation.
func (c *dataConn) handleAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (c *dataConn) addCandidate(init webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}
