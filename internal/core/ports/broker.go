package ports

import (
	"context"

	"peercast/internal/core/domain"
)

// SessionHandlers receive the asynchronous lifecycle events of one identity
// session. Handlers are registered at open time so no event can be lost
// between dialing and wiring.
type SessionHandlers struct {
	// OnOpen fires when the broker assigns (or re-assigns) the identity.
	OnOpen func(id domain.PeerID)
	// OnConnection fires on an inbound data channel (host role).
	OnConnection func(conn DataConn)
	// OnCall fires on an inbound media call (viewer role).
	OnCall func(call MediaCall)
	// OnError surfaces broker and connection-establishment failures.
	OnError func(err error)
	// OnDisconnected fires when the link to the broker drops while the
	// session object is still usable for an in-place reconnect.
	OnDisconnected func()
	// OnClose fires when the session is gone for good.
	OnClose func()
}

// Broker opens peer identity sessions against the signaling service. The
// service itself is a black box; this is the only surface the core sees.
// Handlers fire from the broker's event loop, never before Open returns.
type Broker interface {
	Open(ctx context.Context, ice domain.ICEConfig, h SessionHandlers) (IdentitySession, error)
}

// IdentitySession is one live broker-assigned peer identity. It is replaced
// wholesale on a full reconnect, never reused after Destroy.
type IdentitySession interface {
	// ID returns the assigned identity, empty until OnOpen has fired.
	ID() domain.PeerID
	// Connect opens an outbound data channel to a remote identity.
	Connect(remote domain.PeerID) (DataConn, error)
	// Call opens an outbound media call carrying the given stream.
	Call(remote domain.PeerID, stream MediaStream, opts CallOptions) (MediaCall, error)
	// Reconnect attempts a lightweight in-place reconnect to the broker,
	// reusing the same identity if the broker allows it.
	Reconnect() error
	Disconnected() bool
	Destroyed() bool
	// Destroy tears the session down: every connection is closed and late
	// events for this session are discarded.
	Destroy()
}

// CallOptions tweak outbound media negotiation.
type CallOptions struct {
	// TransformSDP, when set, rewrites the offer SDP before it is sent.
	TransformSDP func(sdp string) string
}

// DataConn is a reliable data channel to one remote identity. Payloads are
// JSON-serialized. Events for one connection arrive in order
// open -> (data*) -> (error | close); error and close are mutually exclusive.
type DataConn interface {
	RemoteID() domain.PeerID
	Open() bool
	OnOpen(func())
	OnData(func(payload []byte))
	OnError(func(err error))
	OnClose(func())
	Send(v interface{}) error
	Close() error
}

// MediaCall is one media-stream offer between host and viewer.
type MediaCall interface {
	RemoteID() domain.PeerID
	// Answer accepts an inbound call. No-op on outbound calls.
	Answer() error
	OnStream(func(stream MediaStream))
	OnError(func(err error))
	OnClose(func())
	Close() error
}

// MediaStream is a set of live media tracks, local or remote.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	VideoTracks() []MediaTrack
	AudioTracks() []MediaTrack
}

// MediaTrack is a single audio or video track.
type MediaTrack interface {
	ID() string
	Kind() string
	// ApplyConstraints applies a refinement pass; failure is non-fatal to
	// callers by contract.
	ApplyConstraints(c domain.TrackConstraints) error
	SetContentHint(hint string) error
	ContentHint() string
	// OnEnded fires when the track ends outside our control, e.g. the
	// captured surface going away.
	OnEnded(func())
	Stop()
}
