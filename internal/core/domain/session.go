package domain

// PeerID is the broker-assigned identity of one participant's endpoint.
// It is empty until the session's open event fires and is replaced wholesale
// on reconnect, never mutated in place.
type PeerID string

// ConnectionID names one data or media connection between two peers.
type ConnectionID string

// ReconnectState tracks the bounded-retry reconnect protocol for the single
// active identity session. Attempts grows monotonically per retry and is
// reset to zero on a successful (re)open. Once Attempts reaches MaxAttempts
// the session is terminally failed and no further automatic retries occur.
type ReconnectState struct {
	Attempts    int
	MaxAttempts int
}

// Exhausted reports whether the retry budget is spent.
func (r ReconnectState) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// Reset clears the attempt counter after a successful reconnection.
func (r *ReconnectState) Reset() {
	r.Attempts = 0
}
