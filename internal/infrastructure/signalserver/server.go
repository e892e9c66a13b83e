package signalserver

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/infrastructure/broker"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Stats receives server-side counters. Implemented by the prometheus
// collector; tests plug a no-op.
type Stats interface {
	PeerConnected()
	PeerDisconnected()
	MessageRelayed(t string)
	RelayFailed()
}

// NopStats discards all observations.
type NopStats struct{}

func (NopStats) PeerConnected()      {}
func (NopStats) PeerDisconnected()   {}
func (NopStats) MessageRelayed(string) {}
func (NopStats) RelayFailed()        {}

// Config holds the relay server settings.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	MessageBurst      int
}

// Server relays signaling messages between connected peers. Peers are known
// only by their assigned identity; message payloads pass through opaque.
type Server struct {
	cfg Config

	mu      sync.RWMutex
	clients map[domain.PeerID]*client

	stats  Stats
	logger *zap.SugaredLogger
}

// client is one connected peer with a write-serialized socket.
type client struct {
	id      domain.PeerID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(timeout time.Duration, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func New(cfg Config, stats Stats, logger *zap.SugaredLogger) *Server {
	if stats == nil {
		stats = NopStats{}
	}
	return &Server{
		cfg:     cfg,
		clients: make(map[domain.PeerID]*client),
		stats:   stats,
		logger:  logger,
	}
}

// HandleWebSocket upgrades the request and serves one peer until its socket
// closes. A peer presenting a known id reclaims it; the old socket is closed.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := domain.PeerID(r.URL.Query().Get("id"))
	if id == "" {
		id = domain.PeerID(uuid.New().String())
	}
	cl := &client{id: id, conn: conn}

	s.mu.Lock()
	old, isReconnect := s.clients[id]
	s.clients[id] = cl
	s.mu.Unlock()
	if isReconnect && old != nil {
		old.conn.Close()
		s.logger.Infow("closing old connection for reconnecting peer", "peer_id", id)
	}

	s.stats.PeerConnected()
	s.logger.Infow("peer connected", "peer_id", id, "reconnect", isReconnect)

	// The open message confirms the identity, assigned or reclaimed.
	openMsg, _ := broker.NewMessage(broker.MessageOpen, id, broker.OpenPayload{ID: id})
	if err := cl.send(s.cfg.WriteTimeout, openMsg); err != nil {
		s.logger.Warnw("failed to send open message", "peer_id", id, "error", err)
		s.unregister(cl)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)

	messageChan := make(chan broker.Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg broker.Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !limiter.Allow() {
				s.logger.Warnw("message rate limit exceeded", "peer_id", id, "type", msg.Type)
				s.sendError(cl, "rate limit exceeded")
				continue
			}
			if err := s.handleMessage(cl, msg); err != nil {
				s.logger.Infow("error handling message from peer", "peer_id", id, "type", msg.Type, "error", err)
				s.sendError(cl, err.Error())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "peer_id", id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.unregister(cl)
	s.stats.PeerDisconnected()
	s.logger.Infow("peer disconnected", "peer_id", id)
}

// unregister removes the client unless its identity was already reclaimed by
// a newer socket.
func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	if current, ok := s.clients[cl.id]; ok && current == cl {
		delete(s.clients, cl.id)
	}
	s.mu.Unlock()
}

func (s *Server) handleMessage(from *client, msg broker.Message) error {
	switch msg.Type {
	case broker.MessageHeartbeat:
		return nil

	case broker.MessageOffer, broker.MessageAnswer:
		var sdp struct {
			SDP string `json:"sdp"`
		}
		if err := msg.Decode(&sdp); err != nil {
			return err
		}
		if err := validateSDP(sdp.SDP); err != nil {
			return fmt.Errorf("invalid SDP in %s: %w", msg.Type, err)
		}
		return s.relay(from, msg)

	case broker.MessageCandidate, broker.MessageLeave:
		return s.relay(from, msg)

	case "":
		return fmt.Errorf("message type is required")

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// relay forwards the message to its target, stamping the sender identity.
// The transient phrasing of the unknown-target error is part of the client
// contract.
func (s *Server) relay(from *client, msg broker.Message) error {
	if msg.Dst == "" {
		return fmt.Errorf("%s message has no target", msg.Type)
	}

	s.mu.RLock()
	target, ok := s.clients[msg.Dst]
	s.mu.RUnlock()
	if !ok {
		s.stats.RelayFailed()
		return fmt.Errorf("could not connect to peer %s", msg.Dst)
	}

	msg.Src = from.id
	if err := target.send(s.cfg.WriteTimeout, msg); err != nil {
		s.stats.RelayFailed()
		return fmt.Errorf("could not connect to peer %s", msg.Dst)
	}

	s.stats.MessageRelayed(string(msg.Type))
	s.logger.Debugw("relayed message", "type", msg.Type, "from_peer", from.id, "to_peer", msg.Dst)
	return nil
}

func (s *Server) sendError(cl *client, message string) {
	msg, err := broker.NewMessage(broker.MessageError, cl.id, broker.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	if err := cl.send(s.cfg.WriteTimeout, msg); err != nil {
		s.logger.Debugw("error message not delivered", "peer_id", cl.id, "error", err)
	}
}

// ConnectedPeers lists the currently registered identities.
func (s *Server) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.clients))
	for id := range s.clients {
		peers = append(peers, id)
	}
	return peers
}

func (s *Server) IsPeerConnected(id domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok
}

// validateSDP checks the minimal session description shape before relaying.
func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
