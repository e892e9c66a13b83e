package domain

import "fmt"

// ConnState is the lifecycle state of a single peer connection or media call.
type ConnState int

const (
	ConnOpening ConnState = iota
	ConnOpen
	ConnClosedError
	ConnClosedClean
)

func (s ConnState) String() string {
	switch s {
	case ConnOpening:
		return "opening"
	case ConnOpen:
		return "open"
	case ConnClosedError:
		return "closed-error"
	case ConnClosedClean:
		return "closed-clean"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s ConnState) Terminal() bool {
	return s == ConnClosedError || s == ConnClosedClean
}

// ConnLifecycle is a guarded state machine over ConnState. Error and clean
// close are mutually exclusive terminal states, so exactly one teardown path
// can fire per connection instance.
type ConnLifecycle struct {
	state ConnState
}

// State returns the current state.
func (l *ConnLifecycle) State() ConnState {
	return l.state
}

// MarkOpen transitions opening -> open.
func (l *ConnLifecycle) MarkOpen() error {
	return l.transition(ConnOpen)
}

// Fail transitions to closed-error. Returns ErrConnTerminal if a teardown
// path already ran.
func (l *ConnLifecycle) Fail() error {
	return l.transition(ConnClosedError)
}

// CloseClean transitions to closed-clean. Returns ErrConnTerminal if a
// teardown path already ran.
func (l *ConnLifecycle) CloseClean() error {
	return l.transition(ConnClosedClean)
}

func (l *ConnLifecycle) transition(next ConnState) error {
	if l.state.Terminal() {
		return ErrConnTerminal
	}
	if next == ConnOpen && l.state != ConnOpening {
		return fmt.Errorf("invalid transition %s -> %s", l.state, next)
	}
	l.state = next
	return nil
}
