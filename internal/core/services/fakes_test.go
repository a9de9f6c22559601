package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/monitoring"

	"github.com/pion/webrtc/v3"
)

func testSDP(tag string) string {
	return fmt.Sprintf("v=0\r\no=- %s 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n", tag)
}

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host", n, n, n)}
}

var (
	errFakeTransition = errors.New("invalid signaling transition")
	errFakeNoRemote   = errors.New("remote description is not set")
	errFakeNoRollback = errors.New("rollback description not supported")
)

// fakeConnection records what the negotiation layer does to it. It enforces
// the signaling transitions pion accepts, so an out-of-order call fails
// here the way it would against a real connection.
type fakeConnection struct {
	mu          sync.Mutex
	signaling   webrtc.SignalingState
	hasRemote   bool
	offers      int
	restarts    int
	rollbacks   int
	local       []webrtc.SessionDescription
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	videoTracks []webrtc.TrackLocal
	closed      bool

	answerErr  error
	remoteErr  error
	replaceErr error
}

func (f *fakeConnection) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if opts != nil && opts.ICERestart {
		f.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP(fmt.Sprintf("offer-%d", f.offers))}, nil
}

func (f *fakeConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	if f.state() != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errFakeTransition
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP("answer")}, nil
}

func (f *fakeConnection) state() webrtc.SignalingState {
	// zero value is a fresh connection
	if f.signaling == 0 {
		return webrtc.SignalingStateStable
	}
	return f.signaling
}

func (f *fakeConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeRollback:
		return errFakeNoRollback
	case desc.Type == webrtc.SDPTypeOffer && f.state() == webrtc.SignalingStateStable:
		f.signaling = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state() == webrtc.SignalingStateHaveRemoteOffer:
		f.signaling = webrtc.SignalingStateStable
	default:
		return errFakeTransition
	}
	f.local = append(f.local, desc)
	return nil
}

func (f *fakeConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteErr != nil {
		return f.remoteErr
	}
	switch {
	case desc.Type == webrtc.SDPTypeRollback:
		return errFakeNoRollback
	case desc.Type == webrtc.SDPTypeOffer && f.state() == webrtc.SignalingStateStable:
		f.signaling = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state() == webrtc.SignalingStateHaveLocalOffer:
		f.signaling = webrtc.SignalingStateStable
	default:
		return errFakeTransition
	}
	f.hasRemote = true
	f.remote = append(f.remote, desc)
	return nil
}

func (f *fakeConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRemote {
		return errFakeNoRemote
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConnection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.videoTracks = append(f.videoTracks, track)
	return nil
}

// Rollback mirrors the rebuild the pion adapter performs: the connection
// returns to stable and forgets its remote description.
func (f *fakeConnection) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return webrtc.ErrConnectionClosed
	}
	if f.state() == webrtc.SignalingStateStable {
		return nil
	}
	f.signaling = webrtc.SignalingStateStable
	f.hasRemote = false
	f.rollbacks++
	return nil
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConnection) signalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state()
}

func (f *fakeConnection) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *fakeConnection) lastLocal() webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.local) == 0 {
		return webrtc.SessionDescription{}
	}
	return f.local[len(f.local)-1]
}

func (f *fakeConnection) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

func (f *fakeConnection) replacedTracks() []webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), f.videoTracks...)
}

func (f *fakeConnection) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func (f *fakeConnection) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out fakeConnections and keeps the latest one per peer.
type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.PeerID]*fakeConnection
	specs map[domain.PeerID]ports.ConnectionSpec
	made  int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		conns: make(map[domain.PeerID]*fakeConnection),
		specs: make(map[domain.PeerID]ports.ConnectionSpec),
	}
}

func (f *fakeFactory) NewConnection(ctx context.Context, spec ports.ConnectionSpec) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConnection{}
	f.conns[spec.PeerID] = conn
	f.specs[spec.PeerID] = spec
	f.made++
	return conn, nil
}

func (f *fakeFactory) conn(id domain.PeerID) *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id]
}

func (f *fakeFactory) spec(id domain.PeerID) ports.ConnectionSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[id]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made
}

// fakeTransport delivers inbound messages synchronously and records sends.
type fakeTransport struct {
	mu         sync.Mutex
	localID    domain.PeerID
	state      domain.ConnectionState
	handlers   map[domain.MessageKind]ports.SignalHandler
	stateFns   []func(domain.ConnectionState)
	sent       []domain.Signal
	connects   int
	connectErr error
}

func newFakeTransport(id domain.PeerID) *fakeTransport {
	return &fakeTransport{
		localID:  id,
		state:    domain.StateDisconnected,
		handlers: make(map[domain.MessageKind]ports.SignalHandler),
	}
}

func (t *fakeTransport) Connect(ctx context.Context, room domain.RoomID, displayName string) error {
	t.mu.Lock()
	t.connects++
	err := t.connectErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.setState(domain.StateInRoom)
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.setState(domain.StateDisconnected)
}

func (t *fakeTransport) Send(ctx context.Context, msg domain.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) On(kind domain.MessageKind, handler ports.SignalHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = handler
}

func (t *fakeTransport) OnStateChange(fn func(domain.ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFns = append(t.stateFns, fn)
}

func (t *fakeTransport) State() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) LocalID() domain.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localID
}

func (t *fakeTransport) Mode() domain.TransportMode { return domain.TransportWebSocket }

func (t *fakeTransport) ReconnectAttempts() int { return 0 }

func (t *fakeTransport) setLocalID(id domain.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localID = id
}

func (t *fakeTransport) setState(state domain.ConnectionState) {
	t.mu.Lock()
	t.state = state
	fns := append([]func(domain.ConnectionState){}, t.stateFns...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (t *fakeTransport) deliver(msg domain.Signal) {
	t.mu.Lock()
	h := t.handlers[msg.Kind()]
	t.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (t *fakeTransport) sentOf(kind domain.MessageKind) []domain.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Signal
	for _, m := range t.sent {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// recordingObserver keeps every callback for assertions.
type recordingObserver struct {
	NopObserver
	mu           sync.Mutex
	events       []domain.CallEvent
	participants [][]domain.Participant
	peerStates   map[domain.PeerID][]domain.ICEState
	tracks       []domain.RemoteTrack
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{peerStates: make(map[domain.PeerID][]domain.ICEState)}
}

func (o *recordingObserver) OnParticipants(p []domain.Participant) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.participants = append(o.participants, p)
}

func (o *recordingObserver) OnPeerState(id domain.PeerID, state domain.ICEState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peerStates[id] = append(o.peerStates[id], state)
}

func (o *recordingObserver) OnRemoteTrack(track domain.RemoteTrack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = append(o.tracks, track)
}

func (o *recordingObserver) OnEvent(e domain.CallEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) eventCodes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var codes []string
	for _, e := range o.events {
		if e.Code != "" {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

func (o *recordingObserver) lastParticipants() []domain.Participant {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.participants) == 0 {
		return nil
	}
	return o.participants[len(o.participants)-1]
}

func (o *recordingObserver) statesOf(id domain.PeerID) []domain.ICEState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ICEState(nil), o.peerStates[id]...)
}

func (o *recordingObserver) remoteTracks() []domain.RemoteTrack {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.RemoteTrack(nil), o.tracks...)
}

// countingMetrics counts the calls the health tests care about.
type countingMetrics struct {
	monitoring.NopMetrics
	mu          sync.Mutex
	restarts    int
	exhausted   int
	diagnostics []bool
	rtts        map[domain.PeerID]time.Duration
}

func (m *countingMetrics) IncICERestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
}

func (m *countingMetrics) IncRestartExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted++
}

func (m *countingMetrics) IncDiagnostics(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnostics = append(m.diagnostics, reachable)
}

func (m *countingMetrics) ObserveRTT(id domain.PeerID, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rtts == nil {
		m.rtts = make(map[domain.PeerID]time.Duration)
	}
	m.rtts[id] = rtt
}

func (m *countingMetrics) rttOf(id domain.PeerID) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rtt, ok := m.rtts[id]
	return rtt, ok
}

// stubDiagnostics returns a fixed report.
type stubDiagnostics struct {
	mu     sync.Mutex
	report domain.ConnectivityReport
	err    error
	calls  int
}

func (d *stubDiagnostics) CheckConnectivity(ctx context.Context) (domain.ConnectivityReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.report, d.err
}

func (d *stubDiagnostics) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
