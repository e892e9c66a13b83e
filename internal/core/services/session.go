package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"
	apperrors "peercast/pkg/errors"
	"peercast/pkg/backoff"

	"go.uber.org/zap"
)

// errorDisplayLimit caps the length of unexpected broker error messages in
// notifications.
const errorDisplayLimit = 100

// inPlaceReconnectDelay is the grace period before trying a lightweight
// reconnect after the broker link drops.
const inPlaceReconnectDelay = time.Second

// SessionEvents are the role-specific side effects layered over the shared
// session lifecycle. All fields are optional.
type SessionEvents struct {
	// OnReady fires whenever an identity is (re)assigned.
	OnReady func(id domain.PeerID)
	// OnConnection fires on an inbound data channel (host role).
	OnConnection func(conn ports.DataConn)
	// OnCall fires on an inbound media call (viewer role).
	OnCall func(call ports.MediaCall)
	// OnTerminalFailure fires once when the retry budget is exhausted.
	OnTerminalFailure func()
}

// SessionManager owns the single live identity session and its reconnect
// policy. The policy is shared by host and viewer; role-specific behavior
// comes in through SessionEvents.
//
// Reconnect protocol: transient failures schedule a retry after
// min(base * 2^attempts, max). On broker disconnect a lightweight in-place
// reconnect is tried first. At most one retry is pending at any time; new
// trigger events while one is pending are ignored. Exhausting the budget is
// terminal and notified exactly once.
type SessionManager struct {
	broker   ports.Broker
	notifier ports.Notifier
	metrics  ports.Metrics
	sched    ports.Scheduler
	policy   backoff.Policy
	ice      domain.ICEConfig
	events   SessionEvents

	mu               sync.Mutex
	sess             ports.IdentitySession
	id               domain.PeerID
	reconnect        domain.ReconnectState
	retryTimer       ports.Timer
	retryPending     bool
	wasInterrupted   bool
	terminalNotified bool
	closed           bool

	logger *zap.SugaredLogger
}

// NewSessionManager wires a session manager. metrics and sched may be nil;
// they default to no-op metrics and the wall clock.
func NewSessionManager(
	broker ports.Broker,
	notifier ports.Notifier,
	metrics ports.Metrics,
	sched ports.Scheduler,
	ice domain.ICEConfig,
	policy backoff.Policy,
	events SessionEvents,
	logger *zap.SugaredLogger,
) *SessionManager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if sched == nil {
		sched = ports.SystemScheduler()
	}
	return &SessionManager{
		broker:   broker,
		notifier: notifier,
		metrics:  metrics,
		sched:    sched,
		policy:   policy,
		ice:      ice,
		events:   events,
		reconnect: domain.ReconnectState{
			MaxAttempts: policy.MaxAttempts,
		},
		logger: logger,
	}
}

// Open discards any previous session object and opens a fresh identity
// against the broker. The assigned identity arrives via OnReady.
func (m *SessionManager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	m.cancelRetryLocked()
	old := m.sess
	m.sess = nil
	m.id = ""
	m.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	sess, err := m.broker.Open(ctx, m.ice, ports.SessionHandlers{
		OnOpen:         m.handleOpen,
		OnConnection:   m.handleConnection,
		OnCall:         m.handleCall,
		OnError:        m.HandleTransient,
		OnDisconnected: m.handleDisconnected,
		OnClose:        m.handleClosed,
	})
	if err != nil {
		m.logger.Warnw("broker open failed", "error", err)
		m.HandleTransient(err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.Destroy()
		return domain.ErrSessionDestroyed
	}
	m.sess = sess
	m.mu.Unlock()
	return nil
}

// ID returns the current identity, empty while unassigned.
func (m *SessionManager) ID() domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Reconnecting reports whether a retry is pending or a recovery has been
// started and not yet confirmed by an open event.
func (m *SessionManager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryPending || (m.wasInterrupted && !m.terminalNotified)
}

// Connect opens a data channel to a remote identity on the live session.
func (m *SessionManager) Connect(remote domain.PeerID) (ports.DataConn, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return nil, domain.ErrSessionDestroyed
	}
	return sess.Connect(remote)
}

// Call opens a media call to a remote identity on the live session.
func (m *SessionManager) Call(remote domain.PeerID, stream ports.MediaStream, opts ports.CallOptions) (ports.MediaCall, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return nil, domain.ErrSessionDestroyed
	}
	return sess.Call(remote, stream, opts)
}

// Close tears the session down for good: pending timers are cancelled
// synchronously and the broker session is destroyed. Idempotent.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelRetryLocked()
	sess := m.sess
	m.sess = nil
	m.id = ""
	m.mu.Unlock()

	if sess != nil {
		sess.Destroy()
		m.metrics.SessionClosed()
	}
}

// HandleTransient feeds a failure into the reconnect protocol. Transient
// causes schedule a bounded retry; anything else is surfaced once as a
// destructive notification and not retried. Viewer connection-level errors
// re-enter the protocol through here as well.
func (m *SessionManager) HandleTransient(cause error) {
	if cause == nil {
		return
	}
	if !apperrors.IsTransient(cause) {
		m.logger.Errorw("non-transient session error", "error", cause)
		m.notifier.Notify(domain.Notification{
			Title:   "Connection error",
			Message: apperrors.Truncate(cause.Error(), errorDisplayLimit),
			Variant: domain.NotificationDestructive,
		})
		return
	}
	m.logger.Warnw("transient session error", "error", cause)
	m.scheduleRetry()
}

func (m *SessionManager) handleOpen(id domain.PeerID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	recovered := m.wasInterrupted
	m.id = id
	m.reconnect.Reset()
	m.retryPending = false
	m.wasInterrupted = false
	m.terminalNotified = false
	m.cancelRetryLocked()
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.logger.Infow("identity session open", "peer_id", id, "recovered", recovered)

	if recovered {
		m.notifier.Notify(domain.Notification{
			Title:   "Connection restored",
			Message: "The link to the signaling service has been re-established.",
			Variant: domain.NotificationInfo,
		})
	}
	if m.events.OnReady != nil {
		m.events.OnReady(id)
	}
}

func (m *SessionManager) handleConnection(conn ports.DataConn) {
	if m.events.OnConnection != nil {
		m.events.OnConnection(conn)
	}
}

func (m *SessionManager) handleCall(call ports.MediaCall) {
	if m.events.OnCall != nil {
		m.events.OnCall(call)
	}
}

// handleDisconnected first tries a lightweight in-place reconnect that keeps
// the same identity, falling back to a full re-open when the session object
// is no longer usable.
func (m *SessionManager) handleDisconnected() {
	m.mu.Lock()
	if m.closed || m.terminalNotified || m.retryPending {
		m.mu.Unlock()
		return
	}
	if m.reconnect.Exhausted() {
		m.mu.Unlock()
		m.notifyTerminal()
		return
	}
	m.wasInterrupted = true
	m.retryPending = true
	m.cancelRetryLocked()
	sess := m.sess
	m.retryTimer = m.sched.AfterFunc(inPlaceReconnectDelay, func() {
		m.mu.Lock()
		m.retryPending = false
		m.mu.Unlock()

		if sess != nil && sess.Disconnected() && !sess.Destroyed() {
			m.logger.Infow("attempting in-place reconnect to broker")
			if err := sess.Reconnect(); err == nil {
				return
			}
			m.logger.Warnw("in-place reconnect failed, reopening session")
		}
		m.bumpAttempts()
		_ = m.Open(context.Background())
	})
	m.mu.Unlock()

	m.logger.Warnw("disconnected from broker")
}

// handleClosed covers the session object going away without Destroy being
// called locally; it re-enters the retry protocol.
func (m *SessionManager) handleClosed() {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.logger.Warnw("identity session closed by broker")
	m.scheduleRetry()
}

func (m *SessionManager) scheduleRetry() {
	m.mu.Lock()
	if m.closed || m.terminalNotified || m.retryPending {
		m.mu.Unlock()
		return
	}
	if m.reconnect.Exhausted() {
		m.mu.Unlock()
		m.notifyTerminal()
		return
	}

	attempt := m.reconnect.Attempts
	delay := m.policy.Delay(attempt)
	m.wasInterrupted = true
	m.retryPending = true
	m.cancelRetryLocked()
	m.retryTimer = m.sched.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retryPending = false
		m.mu.Unlock()
		m.bumpAttempts()
		_ = m.Open(context.Background())
	})
	m.mu.Unlock()

	m.metrics.ReconnectScheduled(attempt + 1)
	m.notifier.Notify(domain.Notification{
		Title: "Connection interrupted",
		Message: fmt.Sprintf("Attempting to reconnect... (%d/%d)",
			attempt+1, m.policy.MaxAttempts),
		Variant:  domain.NotificationInfo,
		Duration: delay,
	})
	m.logger.Infow("reconnect scheduled",
		"attempt", attempt+1,
		"max_attempts", m.policy.MaxAttempts,
		"delay", delay,
	)
}

func (m *SessionManager) bumpAttempts() {
	m.mu.Lock()
	m.reconnect.Attempts++
	m.mu.Unlock()
}

// notifyTerminal surfaces the exhausted-retries failure exactly once.
func (m *SessionManager) notifyTerminal() {
	m.mu.Lock()
	if m.terminalNotified || m.closed {
		m.mu.Unlock()
		return
	}
	m.terminalNotified = true
	m.mu.Unlock()

	m.metrics.ReconnectExhausted()
	m.logger.Errorw("reconnect attempts exhausted", "max_attempts", m.policy.MaxAttempts)
	m.notifier.Notify(domain.Notification{
		Title:   "Unable to connect",
		Message: "The retry limit has been reached. Check your network connection and try again.",
		Variant: domain.NotificationDestructive,
		Sticky:  true,
	})
	if m.events.OnTerminalFailure != nil {
		m.events.OnTerminalFailure()
	}
}

// cancelRetryLocked clears any pending retry timer. Callers hold m.mu.
// Always clearing before rescheduling keeps superseded timers from firing.
func (m *SessionManager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
