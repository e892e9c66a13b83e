package services

import (
	"testing"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

const testArrivalTimeout = 20 * time.Second

func newTestAcceptor(t *testing.T, notifier *recordingNotifier, sched *manualScheduler, reconnecting func() bool) (*Acceptor, *recordingMetrics) {
	t.Helper()
	metrics := &recordingMetrics{}
	a := NewAcceptor(notifier, metrics, sched, testArrivalTimeout, reconnecting, zaptest.NewLogger(t).Sugar())
	return a, metrics
}

func TestAcceptorAnswersAndPublishesStream(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, metrics := newTestAcceptor(t, notifier, sched, nil)

	var published []string
	a.SetHandlers(func(s ports.MediaStream) { published = append(published, s.ID()) }, nil)

	call := &fakeMediaCall{remote: "host-1"}
	a.HandleCall(call)
	assert.True(t, call.answered, "inbound calls are always answered")

	video := newFakeVideoTrack("v1")
	call.fireStream(newFakeStream("remote-1", video))

	assert.Equal(t, []string{"remote-1"}, published)
	assert.NotNil(t, a.Stream())
	assert.Equal(t, domain.ContentHintDetail, video.ContentHint())
	assert.Equal(t, 1, metrics.streamsReceived)

	// Arrival timer was cancelled; firing nothing remains.
	assert.Empty(t, sched.pendingDelays())
	assert.Equal(t, 0, notifier.countTitle("No stream yet"))
}

func TestAcceptorArrivalTimeoutNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, _ := newTestAcceptor(t, notifier, sched, nil)

	a.HandleCall(&fakeMediaCall{remote: "host-1"})
	pending := sched.pendingDelays()
	assert.Len(t, pending, 1)
	assert.Equal(t, testArrivalTimeout, pending[0])

	sched.fireNext()
	assert.Equal(t, 1, notifier.countTitle("No stream yet"))

	note, _ := notifier.lastWithTitle("No stream yet")
	assert.Equal(t, domain.NotificationInfo, note.Variant, "timeout is informational, not an error")
}

func TestAcceptorTimeoutSuppressedWhileReconnecting(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, _ := newTestAcceptor(t, notifier, sched, func() bool { return true })

	a.HandleCall(&fakeMediaCall{remote: "host-1"})
	sched.fireNext()
	assert.Equal(t, 0, notifier.countTitle("No stream yet"))
}

func TestAcceptorReplacementCallRearmsTimer(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, _ := newTestAcceptor(t, notifier, sched, nil)

	a.HandleCall(&fakeMediaCall{remote: "host-1"})
	a.HandleCall(&fakeMediaCall{remote: "host-1"})

	assert.Len(t, sched.pendingDelays(), 1, "only the newest arrival window is armed")
}

func TestAcceptorRemoteCloseClearsStream(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, _ := newTestAcceptor(t, notifier, sched, nil)

	cleared := 0
	a.SetHandlers(nil, func() { cleared++ })

	call := &fakeMediaCall{remote: "host-1"}
	a.HandleCall(call)
	call.fireStream(newFakeStream("remote-1", newFakeVideoTrack("v1")))
	assert.NotNil(t, a.Stream())

	call.fireClose()
	assert.Nil(t, a.Stream())
	assert.Equal(t, 1, cleared)
}

func TestAcceptorCloseCancelsTimer(t *testing.T) {
	notifier := &recordingNotifier{}
	sched := newManualScheduler()
	a, _ := newTestAcceptor(t, notifier, sched, nil)

	call := &fakeMediaCall{remote: "host-1"}
	a.HandleCall(call)
	a.Close()

	assert.Empty(t, sched.pendingDelays())
	assert.True(t, call.isClosed())
	assert.Nil(t, a.Stream())
}
