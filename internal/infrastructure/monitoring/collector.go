package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports session, call and relay counters. It covers both roles:
// the client-side metrics port and the relay server stats.
type Collector struct {
	sessionsActive    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	reconnectAttempts *prometheus.CounterVec
	reconnectFailures prometheus.Counter

	viewersConnected prometheus.Gauge
	callsActive      prometheus.Gauge
	callsTotal       prometheus.Counter
	streamsReceived  prometheus.Counter

	peersConnected  prometheus.Gauge
	messagesRelayed *prometheus.CounterVec
	relayFailures   prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercast_sessions_active",
			Help: "Number of live broker identity sessions",
		}),
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercast_sessions_total",
			Help: "Total broker identity sessions opened",
		}),
		reconnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercast_reconnect_attempts_total",
			Help: "Reconnection attempts by attempt number",
		}, []string{"attempt"}),
		reconnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercast_reconnect_exhausted_total",
			Help: "Reconnection sequences that ran out of attempts",
		}),

		viewersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercast_viewers_connected",
			Help: "Viewers currently connected to this host",
		}),
		callsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercast_calls_active",
			Help: "Media calls currently open",
		}),
		callsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercast_calls_total",
			Help: "Total media calls opened",
		}),
		streamsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercast_streams_received_total",
			Help: "Remote streams received and published for playback",
		}),

		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercast_relay_peers_connected",
			Help: "Peers currently registered on the relay",
		}),
		messagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercast_relay_messages_total",
			Help: "Signaling messages relayed by type",
		}, []string{"type"}),
		relayFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercast_relay_failures_total",
			Help: "Relay attempts that found no reachable target",
		}),
	}
}

// ports.Metrics

func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

func (c *Collector) ReconnectScheduled(attempt int) {
	c.reconnectAttempts.WithLabelValues(attemptLabel(attempt)).Inc()
}

func (c *Collector) ReconnectExhausted() {
	c.reconnectFailures.Inc()
}

func (c *Collector) ViewerJoined() { c.viewersConnected.Inc() }
func (c *Collector) ViewerLeft()   { c.viewersConnected.Dec() }

func (c *Collector) CallOpened() {
	c.callsActive.Inc()
	c.callsTotal.Inc()
}

func (c *Collector) CallClosed() { c.callsActive.Dec() }

func (c *Collector) StreamReceived() { c.streamsReceived.Inc() }

// signalserver.Stats

func (c *Collector) PeerConnected()    { c.peersConnected.Inc() }
func (c *Collector) PeerDisconnected() { c.peersConnected.Dec() }

func (c *Collector) MessageRelayed(t string) {
	c.messagesRelayed.WithLabelValues(t).Inc()
}

func (c *Collector) RelayFailed() { c.relayFailures.Inc() }

func attemptLabel(attempt int) string {
	return strconv.Itoa(attempt)
}
