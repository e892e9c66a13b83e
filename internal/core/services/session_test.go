package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"peercast/internal/core/domain"
	"peercast/pkg/backoff"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestSessionManager(t *testing.T, broker *fakeBroker, sched *manualScheduler, notifier *recordingNotifier, metrics *recordingMetrics, events SessionEvents) *SessionManager {
	t.Helper()
	return NewSessionManager(
		broker,
		notifier,
		metrics,
		sched,
		domain.DefaultICEConfig(),
		backoff.DefaultPolicy(),
		events,
		zaptest.NewLogger(t).Sugar(),
	)
}

func TestSessionManagerBackoffSequence(t *testing.T) {
	broker := &fakeBroker{failures: 6}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}
	m := newTestSessionManager(t, broker, sched, notifier, metrics, SessionEvents{})

	err := m.Open(context.Background())
	assert.Error(t, err)

	wantDelays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, want := range wantDelays {
		pending := sched.pendingDelays()
		assert.Len(t, pending, 1, "retry %d", i+1)
		assert.Equal(t, want, pending[0], "retry %d delay", i+1)
		sched.fireNext()
	}

	// Budget spent: no further timer, one terminal notification.
	assert.Empty(t, sched.pendingDelays())
	assert.Equal(t, 6, broker.openCount())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, metrics.reconnectAttempts)
	assert.Equal(t, 1, metrics.reconnectExhausted)
	assert.Equal(t, 1, notifier.countTitle("Unable to connect"))

	// Late transient errors after exhaustion change nothing.
	m.HandleTransient(domain.ErrSocketClosed)
	assert.Empty(t, sched.pendingDelays())
	assert.Equal(t, 1, notifier.countTitle("Unable to connect"))
}

func TestSessionManagerSingleRetryChain(t *testing.T) {
	broker := &fakeBroker{failures: 10}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	m := newTestSessionManager(t, broker, sched, notifier, &recordingMetrics{}, SessionEvents{})

	_ = m.Open(context.Background())
	assert.Len(t, sched.pendingDelays(), 1)

	// New triggers while a retry is pending are ignored.
	m.HandleTransient(domain.ErrLostServerLink)
	m.HandleTransient(domain.ErrSocketClosed)
	assert.Len(t, sched.pendingDelays(), 1)
	assert.Equal(t, 1, notifier.countTitle("Connection interrupted"))
}

func TestSessionManagerRecoveryResetsBudget(t *testing.T) {
	broker := &fakeBroker{failures: 2}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}
	var ready []domain.PeerID
	m := newTestSessionManager(t, broker, sched, notifier, metrics, SessionEvents{
		OnReady: func(id domain.PeerID) { ready = append(ready, id) },
	})

	_ = m.Open(context.Background())
	sched.fireNext() // 1s retry fails
	sched.fireNext() // 2s retry succeeds
	broker.lastSession().open("room-42")

	assert.Equal(t, []domain.PeerID{"room-42"}, ready)
	assert.Equal(t, domain.PeerID("room-42"), m.ID())
	assert.Equal(t, 1, notifier.countTitle("Connection restored"))
	assert.False(t, m.Reconnecting())

	// Counter reset: the next failure starts over at the base delay.
	m.HandleTransient(domain.ErrLostServerLink)
	pending := sched.pendingDelays()
	assert.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0])
}

func TestSessionManagerInPlaceReconnect(t *testing.T) {
	broker := &fakeBroker{}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	m := newTestSessionManager(t, broker, sched, notifier, &recordingMetrics{}, SessionEvents{})

	assert.NoError(t, m.Open(context.Background()))
	sess := broker.lastSession()
	sess.open("room-7")

	sess.dropLink()
	pending := sched.pendingDelays()
	assert.Len(t, pending, 1)
	assert.Equal(t, time.Second, pending[0])
	assert.True(t, m.Reconnecting())

	sched.fireNext()
	assert.Equal(t, 1, sess.reconnects)
	assert.Equal(t, 1, broker.openCount(), "no full reopen on in-place recovery")
	assert.Equal(t, 1, notifier.countTitle("Connection restored"))
	assert.False(t, m.Reconnecting())
}

func TestSessionManagerInPlaceFailureFallsBackToReopen(t *testing.T) {
	broker := &fakeBroker{}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	m := newTestSessionManager(t, broker, sched, notifier, &recordingMetrics{}, SessionEvents{})

	assert.NoError(t, m.Open(context.Background()))
	sess := broker.lastSession()
	sess.open("room-7")
	sess.mu.Lock()
	sess.reconnectErr = errors.New("identity rejected")
	sess.mu.Unlock()

	sess.dropLink()
	sched.fireNext()

	assert.Equal(t, 1, sess.reconnects)
	assert.Equal(t, 2, broker.openCount(), "full reopen after in-place failure")
	assert.True(t, sess.Destroyed())

	broker.lastSession().open("room-7")
	assert.Equal(t, domain.PeerID("room-7"), m.ID())
}

func TestSessionManagerNonTransientNotRetried(t *testing.T) {
	broker := &fakeBroker{}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	m := newTestSessionManager(t, broker, sched, notifier, &recordingMetrics{}, SessionEvents{})
	assert.NoError(t, m.Open(context.Background()))

	long := errors.New(strings.Repeat("x", 150))
	m.HandleTransient(long)

	assert.Empty(t, sched.pendingDelays())
	note, ok := notifier.lastWithTitle("Connection error")
	assert.True(t, ok)
	assert.Equal(t, domain.NotificationDestructive, note.Variant)
	assert.Len(t, note.Message, 103, "100 chars plus ellipsis")
}

func TestSessionManagerCloseCancelsRetries(t *testing.T) {
	broker := &fakeBroker{failures: 10}
	sched := newManualScheduler()
	notifier := &recordingNotifier{}
	m := newTestSessionManager(t, broker, sched, notifier, &recordingMetrics{}, SessionEvents{})

	_ = m.Open(context.Background())
	assert.Len(t, sched.pendingDelays(), 1)

	m.Close()
	assert.Empty(t, sched.pendingDelays())

	// A closed manager refuses to reopen and schedules nothing.
	assert.ErrorIs(t, m.Open(context.Background()), domain.ErrSessionDestroyed)
	m.HandleTransient(domain.ErrSocketClosed)
	assert.Empty(t, sched.pendingDelays())
}

func TestSessionManagerConnectRequiresLiveSession(t *testing.T) {
	broker := &fakeBroker{failures: 1}
	sched := newManualScheduler()
	m := newTestSessionManager(t, broker, sched, &recordingNotifier{}, &recordingMetrics{}, SessionEvents{})

	_ = m.Open(context.Background())
	_, err := m.Connect("room-9")
	assert.ErrorIs(t, err, domain.ErrSessionDestroyed)
}
