package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"
)

// recordingNotifier collects notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (n *recordingNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.notes))
	copy(out, n.notes)
	return out
}

func (n *recordingNotifier) countTitle(title string) int {
	count := 0
	for _, note := range n.all() {
		if note.Title == title {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) lastWithTitle(title string) (domain.Notification, bool) {
	var found domain.Notification
	ok := false
	for _, note := range n.all() {
		if note.Title == title {
			found = note
			ok = true
		}
	}
	return found, ok
}

// recordingMetrics counts lifecycle observations.
type recordingMetrics struct {
	mu                 sync.Mutex
	sessionsOpened     int
	sessionsClosed     int
	reconnectAttempts  []int
	reconnectExhausted int
	viewersJoined      int
	viewersLeft        int
	callsOpened        int
	callsClosed        int
	streamsReceived    int
}

func (m *recordingMetrics) SessionOpened() { m.mu.Lock(); m.sessionsOpened++; m.mu.Unlock() }
func (m *recordingMetrics) SessionClosed() { m.mu.Lock(); m.sessionsClosed++; m.mu.Unlock() }
func (m *recordingMetrics) ReconnectScheduled(attempt int) {
	m.mu.Lock()
	m.reconnectAttempts = append(m.reconnectAttempts, attempt)
	m.mu.Unlock()
}
func (m *recordingMetrics) ReconnectExhausted() { m.mu.Lock(); m.reconnectExhausted++; m.mu.Unlock() }
func (m *recordingMetrics) ViewerJoined()       { m.mu.Lock(); m.viewersJoined++; m.mu.Unlock() }
func (m *recordingMetrics) ViewerLeft()         { m.mu.Lock(); m.viewersLeft++; m.mu.Unlock() }
func (m *recordingMetrics) CallOpened()         { m.mu.Lock(); m.callsOpened++; m.mu.Unlock() }
func (m *recordingMetrics) CallClosed()         { m.mu.Lock(); m.callsClosed++; m.mu.Unlock() }
func (m *recordingMetrics) StreamReceived()     { m.mu.Lock(); m.streamsReceived++; m.mu.Unlock() }

// manualScheduler captures scheduled callbacks so tests drive time by hand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	sched   *manualScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) ports.Timer {
	t := &manualTimer{sched: s, delay: d, fn: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

// pendingDelays returns the delays of timers that are still armed.
func (s *manualScheduler) pendingDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.delay)
		}
	}
	return out
}

// fireNext runs the oldest armed timer. Reports whether one fired.
func (s *manualScheduler) fireNext() bool {
	s.mu.Lock()
	var next *manualTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	fn := next.fn
	s.mu.Unlock()
	fn()
	return true
}

// fakeBroker hands out scripted sessions, failing the first failures opens.
// Event delivery is explicit: tests call open/dropLink/fail on the session
// after Open has returned, matching the real broker's event loop ordering.
type fakeBroker struct {
	mu       sync.Mutex
	failures int
	openErr  error
	opens    int
	sessions []*fakeSession
}

func (b *fakeBroker) Open(_ context.Context, _ domain.ICEConfig, h ports.SessionHandlers) (ports.IdentitySession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.failures > 0 {
		b.failures--
		err := b.openErr
		if err == nil {
			err = domain.ErrBrokerUnreachable
		}
		return nil, err
	}
	sess := &fakeSession{handlers: h, broker: b}
	b.sessions = append(b.sessions, sess)
	return sess, nil
}

func (b *fakeBroker) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *fakeBroker) lastSession() *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

type fakeSession struct {
	handlers ports.SessionHandlers
	broker   *fakeBroker

	mu           sync.Mutex
	id           domain.PeerID
	disconnected bool
	destroyed    bool
	reconnects   int
	reconnectErr error
	connErr      error
	callErr      error
	conns        []*fakeDataConn
	calls        []*fakeMediaCall
}

func (s *fakeSession) open(id domain.PeerID) {
	s.mu.Lock()
	s.id = id
	s.disconnected = false
	s.mu.Unlock()
	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen(id)
	}
}

func (s *fakeSession) dropLink() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	if s.handlers.OnDisconnected != nil {
		s.handlers.OnDisconnected()
	}
}

func (s *fakeSession) fail(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *fakeSession) inboundConn(conn *fakeDataConn) {
	if s.handlers.OnConnection != nil {
		s.handlers.OnConnection(conn)
	}
}

func (s *fakeSession) inboundCall(call *fakeMediaCall) {
	if s.handlers.OnCall != nil {
		s.handlers.OnCall(call)
	}
}

func (s *fakeSession) ID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *fakeSession) Connect(remote domain.PeerID) (ports.DataConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return nil, s.connErr
	}
	conn := &fakeDataConn{remote: remote}
	s.conns = append(s.conns, conn)
	return conn, nil
}

func (s *fakeSession) Call(remote domain.PeerID, stream ports.MediaStream, opts ports.CallOptions) (ports.MediaCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	call := &fakeMediaCall{remote: remote, stream: stream, opts: opts}
	s.calls = append(s.calls, call)
	return call, nil
}

func (s *fakeSession) Reconnect() error {
	s.mu.Lock()
	s.reconnects++
	err := s.reconnectErr
	if err == nil {
		s.disconnected = false
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen(s.ID())
	}
	return nil
}

func (s *fakeSession) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *fakeSession) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *fakeSession) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

type fakeDataConn struct {
	mu      sync.Mutex
	remote  domain.PeerID
	opened  bool
	closed  bool
	sent    []interface{}
	onOpen  func()
	onData  func([]byte)
	onError func(error)
	onClose func()
}

func (c *fakeDataConn) RemoteID() domain.PeerID { return c.remote }

func (c *fakeDataConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

func (c *fakeDataConn) OnOpen(f func())         { c.mu.Lock(); c.onOpen = f; c.mu.Unlock() }
func (c *fakeDataConn) OnData(f func([]byte))   { c.mu.Lock(); c.onData = f; c.mu.Unlock() }
func (c *fakeDataConn) OnError(f func(error))   { c.mu.Lock(); c.onError = f; c.mu.Unlock() }
func (c *fakeDataConn) OnClose(f func())        { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }

func (c *fakeDataConn) Send(v interface{}) error {
	c.mu.Lock()
	c.sent = append(c.sent, v)
	c.mu.Unlock()
	return nil
}

func (c *fakeDataConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeDataConn) fireOpen() {
	c.mu.Lock()
	c.opened = true
	f := c.onOpen
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *fakeDataConn) fireError(err error) {
	c.mu.Lock()
	f := c.onError
	c.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (c *fakeDataConn) fireClose() {
	c.mu.Lock()
	c.closed = true
	f := c.onClose
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakeMediaCall struct {
	mu       sync.Mutex
	remote   domain.PeerID
	stream   ports.MediaStream
	opts     ports.CallOptions
	answered bool
	closed   bool
	onStream func(ports.MediaStream)
	onError  func(error)
	onClose  func()
}

func (c *fakeMediaCall) RemoteID() domain.PeerID { return c.remote }

func (c *fakeMediaCall) Answer() error {
	c.mu.Lock()
	c.answered = true
	c.mu.Unlock()
	return nil
}

func (c *fakeMediaCall) OnStream(f func(ports.MediaStream)) { c.mu.Lock(); c.onStream = f; c.mu.Unlock() }
func (c *fakeMediaCall) OnError(f func(error))              { c.mu.Lock(); c.onError = f; c.mu.Unlock() }
func (c *fakeMediaCall) OnClose(f func())                   { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }

func (c *fakeMediaCall) Close() error {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	f := c.onClose
	c.mu.Unlock()
	if !wasClosed && f != nil {
		f()
	}
	return nil
}

func (c *fakeMediaCall) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeMediaCall) fireStream(stream ports.MediaStream) {
	c.mu.Lock()
	f := c.onStream
	c.mu.Unlock()
	if f != nil {
		f(stream)
	}
}

func (c *fakeMediaCall) fireClose() {
	c.mu.Lock()
	c.closed = true
	f := c.onClose
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string, tracks ...*fakeTrack) *fakeStream {
	return &fakeStream{id: id, tracks: tracks}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) VideoTracks() []ports.MediaTrack {
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.kind == domain.TrackKindVideo {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeStream) AudioTracks() []ports.MediaTrack {
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.kind == domain.TrackKindAudio {
			out = append(out, t)
		}
	}
	return out
}

type fakeTrack struct {
	mu          sync.Mutex
	id          string
	kind        string
	hint        string
	applied     []domain.TrackConstraints
	applyErr    error
	hintErr     error
	stopped     bool
	endObserver func()
}

func newFakeVideoTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, kind: domain.TrackKindVideo}
}

func newFakeAudioTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, kind: domain.TrackKindAudio}
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) ApplyConstraints(c domain.TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyErr != nil {
		return t.applyErr
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *fakeTrack) SetContentHint(hint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hintErr != nil {
		return t.hintErr
	}
	t.hint = hint
	return nil
}

func (t *fakeTrack) ContentHint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hint
}

func (t *fakeTrack) OnEnded(f func()) {
	t.mu.Lock()
	t.endObserver = f
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) end() {
	t.mu.Lock()
	f := t.endObserver
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

// fakeDevice hands out scripted capture streams.
type fakeDevice struct {
	mu       sync.Mutex
	stream   ports.MediaStream
	err      error
	acquires int
	lastC    domain.CaptureConstraints
}

func (d *fakeDevice) Acquire(_ context.Context, c domain.CaptureConstraints) (ports.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	d.lastC = c
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// fakePlayer models the autoplay policy: unmuted Play fails with
// ErrAutoplayBlocked until allowUnmuted is set.
type fakePlayer struct {
	mu           sync.Mutex
	attached     ports.MediaStream
	muted        bool
	playing      bool
	allowUnmuted bool
	playCalls    int
}

func (p *fakePlayer) Attach(stream ports.MediaStream) {
	p.mu.Lock()
	p.attached = stream
	p.mu.Unlock()
}

func (p *fakePlayer) Detach() {
	p.mu.Lock()
	p.attached = nil
	p.playing = false
	p.mu.Unlock()
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playCalls++
	if !p.muted && !p.allowUnmuted {
		return domain.ErrAutoplayBlocked
	}
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

func (p *fakePlayer) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *fakePlayer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func sortedPeers(ids []domain.PeerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}
