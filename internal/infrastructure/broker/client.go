package broker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"peercast/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsClient is one websocket link to the signaling server. It owns the write
// mutex, the read loop and the heartbeat ticker; a broken link is reported
// once through onDisconnect.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	heartbeat    time.Duration

	onMessage    func(msg Message)
	onDisconnect func(err error)

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

// dialBroker connects to the signaling server, optionally reclaiming a
// previous identity. The returned client delivers messages from its read
// loop once run.
func dialBroker(ctx context.Context, rawURL string, id domain.PeerID, writeTimeout, heartbeat time.Duration, logger *zap.SugaredLogger) (*wsClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url %q: %w", rawURL, err)
	}
	if id != "" {
		q := u.Query()
		q.Set("id", string(id))
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnreachable, err)
	}

	return &wsClient{
		conn:         conn,
		writeTimeout: writeTimeout,
		heartbeat:    heartbeat,
		done:         make(chan struct{}),
		logger:       logger,
	}, nil
}

// run starts the read loop and heartbeat ticker. Call after the message
// handlers are set.
func (c *wsClient) run() {
	go c.readLoop()
	if c.heartbeat > 0 {
		go c.heartbeatLoop()
	}
}

func (c *wsClient) readLoop() {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}
		if msg.Type == MessageHeartbeat {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *wsClient) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(Message{Type: MessageHeartbeat}); err != nil {
				c.logger.Warnw("heartbeat failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(msg)
}

// fail reports a broken link once and closes the socket.
func (c *wsClient) fail(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	})
}

// close tears the link down quietly, without a disconnect callback.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
