package ports

import (
	"time"

	"peercast/internal/core/domain"
)

// Notifier surfaces local notifications. Implementations must not block the
// caller.
type Notifier interface {
	Notify(n domain.Notification)
}

// Metrics receives session and connection lifecycle counters.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	ReconnectScheduled(attempt int)
	ReconnectExhausted()
	ViewerJoined()
	ViewerLeft()
	CallOpened()
	CallClosed()
	StreamReceived()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()          {}
func (NopMetrics) SessionClosed()          {}
func (NopMetrics) ReconnectScheduled(int)  {}
func (NopMetrics) ReconnectExhausted()     {}
func (NopMetrics) ViewerJoined()           {}
func (NopMetrics) ViewerLeft()             {}
func (NopMetrics) CallOpened()             {}
func (NopMetrics) CallClosed()             {}
func (NopMetrics) StreamReceived()         {}

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop cancels the timer; reports whether it was still pending.
	Stop() bool
}

// Scheduler schedules one-shot callbacks. The production implementation
// wraps time.AfterFunc; tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

type systemTimer struct{ t *time.Timer }

func (t systemTimer) Stop() bool { return t.t.Stop() }

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

// SystemScheduler returns the wall-clock scheduler.
func SystemScheduler() Scheduler {
	return systemScheduler{}
}
