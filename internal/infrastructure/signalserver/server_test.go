package signalserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/infrastructure/broker"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

const validSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MessagesPerSecond == 0 && cfg.MessageBurst == 0 {
		cfg.MessagesPerSecond = 100
		cfg.MessageBurst = 100
	}
	s := New(cfg, nil, zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(ts.Close)
	return s, ts
}

func dialPeer(t *testing.T, ts *httptest.Server, id string) (*websocket.Conn, domain.PeerID) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if id != "" {
		url += "?id=" + id
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	open := readMessage(t, conn)
	assert.Equal(t, broker.MessageOpen, open.Type)
	var p broker.OpenPayload
	assert.NoError(t, open.Decode(&p))
	assert.NotEmpty(t, p.ID)
	return conn, p.ID
}

func readMessage(t *testing.T, conn *websocket.Conn) broker.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg broker.Message
	assert.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType broker.MessageType, dst domain.PeerID, payload interface{}) {
	t.Helper()
	msg, err := broker.NewMessage(msgType, dst, payload)
	assert.NoError(t, err)
	assert.NoError(t, conn.WriteJSON(msg))
}

func TestServerAssignsIdentity(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	_, id := dialPeer(t, ts, "")
	assert.NotEmpty(t, id)
	assert.Eventually(t, func() bool { return s.IsPeerConnected(id) }, time.Second, 10*time.Millisecond)
}

func TestServerRelaysOfferWithSenderStamp(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	hostConn, hostID := dialPeer(t, ts, "host-1")
	viewerConn, viewerID := dialPeer(t, ts, "viewer-1")
	assert.Equal(t, domain.PeerID("viewer-1"), viewerID)

	sendMessage(t, hostConn, broker.MessageOffer, viewerID, broker.OfferPayload{
		ConnectionID: "conn-1",
		Kind:         broker.KindMedia,
		SDP:          validSDP,
	})

	got := readMessage(t, viewerConn)
	assert.Equal(t, broker.MessageOffer, got.Type)
	assert.Equal(t, hostID, got.Src)

	var p broker.OfferPayload
	assert.NoError(t, got.Decode(&p))
	assert.Equal(t, broker.KindMedia, p.Kind)
	assert.Equal(t, validSDP, p.SDP)
}

func TestServerUnknownTargetReportsPeerUnreachable(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	conn, _ := dialPeer(t, ts, "")
	sendMessage(t, conn, broker.MessageOffer, "ghost", broker.OfferPayload{
		ConnectionID: "conn-1",
		Kind:         broker.KindData,
		SDP:          validSDP,
	})

	got := readMessage(t, conn)
	assert.Equal(t, broker.MessageError, got.Type)
	var p broker.ErrorPayload
	assert.NoError(t, got.Decode(&p))
	assert.Contains(t, p.Message, "could not connect to peer ghost")
}

func TestServerRejectsMalformedSDP(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	conn, _ := dialPeer(t, ts, "sender")
	dialPeer(t, ts, "target")
	sendMessage(t, conn, broker.MessageOffer, "target", broker.OfferPayload{
		ConnectionID: "conn-1",
		Kind:         broker.KindData,
		SDP:          "garbage",
	})

	got := readMessage(t, conn)
	assert.Equal(t, broker.MessageError, got.Type)
	var p broker.ErrorPayload
	assert.NoError(t, got.Decode(&p))
	assert.Contains(t, p.Message, "invalid SDP")
}

func TestServerReclaimsIdentityOnReconnect(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	oldConn, id := dialPeer(t, ts, "host-7")
	assert.Equal(t, domain.PeerID("host-7"), id)

	_, again := dialPeer(t, ts, "host-7")
	assert.Equal(t, id, again)
	assert.True(t, s.IsPeerConnected(id))

	// The replaced socket is closed by the server.
	oldConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg broker.Message
	assert.Error(t, oldConn.ReadJSON(&msg))
}

func TestServerRelaysLeaveAndCandidate(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	aConn, aID := dialPeer(t, ts, "peer-a")
	bConn, bID := dialPeer(t, ts, "peer-b")

	sendMessage(t, aConn, broker.MessageCandidate, bID, broker.CandidatePayload{
		ConnectionID: "conn-1",
		Candidate:    "candidate:1 1 udp 2122260223 192.0.2.1 54321 typ host",
	})
	got := readMessage(t, bConn)
	assert.Equal(t, broker.MessageCandidate, got.Type)
	assert.Equal(t, aID, got.Src)

	sendMessage(t, bConn, broker.MessageLeave, aID, broker.LeavePayload{ConnectionID: "conn-1"})
	got = readMessage(t, aConn)
	assert.Equal(t, broker.MessageLeave, got.Type)
	assert.Equal(t, bID, got.Src)
}

func TestServerRateLimitsMessages(t *testing.T) {
	_, ts := newTestServer(t, Config{MessagesPerSecond: 0.0001, MessageBurst: 1})

	conn, aID := dialPeer(t, ts, "peer-a")
	bConn, bID := dialPeer(t, ts, "peer-b")

	sendMessage(t, conn, broker.MessageLeave, bID, broker.LeavePayload{ConnectionID: "conn-1"})
	got := readMessage(t, bConn)
	assert.Equal(t, broker.MessageLeave, got.Type)
	assert.Equal(t, aID, got.Src)

	sendMessage(t, conn, broker.MessageLeave, bID, broker.LeavePayload{ConnectionID: "conn-2"})
	got = readMessage(t, conn)
	assert.Equal(t, broker.MessageError, got.Type)
	var p broker.ErrorPayload
	assert.NoError(t, got.Decode(&p))
	assert.Contains(t, p.Message, "rate limit")
}

func TestServerRejectsUnknownMessageType(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	conn, _ := dialPeer(t, ts, "")
	assert.NoError(t, conn.WriteJSON(broker.Message{Type: "bogus"}))

	got := readMessage(t, conn)
	assert.Equal(t, broker.MessageError, got.Type)
	var p broker.ErrorPayload
	assert.NoError(t, got.Decode(&p))
	assert.Contains(t, p.Message, "unknown message type")
}
