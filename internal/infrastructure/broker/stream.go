package broker

import (
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// TrackSource is implemented by local media streams that can hand their
// tracks to a peer connection.
type TrackSource interface {
	PionTracks() []webrtc.TrackLocal
}

// RemoteStream is the set of remote tracks arriving over one media call.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*RemoteTrack
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) addTrack(t *RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *RemoteStream) Tracks() []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *RemoteStream) VideoTracks() []ports.MediaTrack {
	return s.byKind(domain.TrackKindVideo)
}

func (s *RemoteStream) AudioTracks() []ports.MediaTrack {
	return s.byKind(domain.TrackKindAudio)
}

func (s *RemoteStream) byKind(kind string) []ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// RemoteTrack wraps one inbound pion track. The content hint is advisory on
// the receive side and only recorded; constraint refinement does not apply
// to remote tracks.
type RemoteTrack struct {
	track *webrtc.TrackRemote
	pc    *webrtc.PeerConnection

	mu      sync.Mutex
	hint    string
	onEnded func()
	ended   bool
}

func newRemoteTrack(track *webrtc.TrackRemote, pc *webrtc.PeerConnection) *RemoteTrack {
	return &RemoteTrack{track: track, pc: pc}
}

func (t *RemoteTrack) ID() string   { return t.track.ID() }
func (t *RemoteTrack) Kind() string { return t.track.Kind().String() }

func (t *RemoteTrack) ApplyConstraints(domain.TrackConstraints) error { return nil }

func (t *RemoteTrack) SetContentHint(hint string) error {
	t.mu.Lock()
	t.hint = hint
	t.mu.Unlock()
	return nil
}

func (t *RemoteTrack) ContentHint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hint
}

func (t *RemoteTrack) OnEnded(f func()) {
	t.mu.Lock()
	t.onEnded = f
	t.mu.Unlock()
}

func (t *RemoteTrack) Stop() {
	t.markEnded()
}

func (t *RemoteTrack) markEnded() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	f := t.onEnded
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

// Pion exposes the underlying track for RTP consumers.
func (t *RemoteTrack) Pion() *webrtc.TrackRemote { return t.track }

// ReadPacket pulls the next raw RTP packet off the track.
func (t *RemoteTrack) ReadPacket() ([]byte, error) {
	buf := make([]byte, 1500)
	n, _, err := t.track.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// RequestKeyFrame asks the sender for a full frame via PLI.
func (t *RemoteTrack) RequestKeyFrame() error {
	return t.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
	})
}
