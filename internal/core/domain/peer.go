package domain

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

// NegotiationState mirrors the offer/answer position of one peer connection.
type NegotiationState string

const (
	NegotiationStable          NegotiationState = "stable"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
)

// ICEState is the connectivity state of one peer connection.
type ICEState string

const (
	ICENew          ICEState = "new"
	ICEChecking     ICEState = "checking"
	ICEConnected    ICEState = "connected"
	ICEDisconnected ICEState = "disconnected"
	ICEFailed       ICEState = "failed"
	ICEClosed       ICEState = "closed"
)

// Failing reports whether the state calls for an ICE restart.
func (s ICEState) Failing() bool {
	return s == ICEFailed || s == ICEDisconnected
}

var AllICEStates = []ICEState{ICENew, ICEChecking, ICEConnected, ICEDisconnected, ICEFailed, ICEClosed}

// Connection is the slice of a WebRTC peer connection the orchestrator drives.
type Connection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	// Rollback discards a pending local or remote offer and returns the
	// connection to stable with no remote description applied.
	Rollback() error
	Close() error
}

// PeerRecord holds everything known about one remote participant.
type PeerRecord struct {
	ID         PeerID
	Generation string
	CreatedAt  time.Time

	negMu sync.Mutex

	mu                sync.RWMutex
	displayName       string
	conn              Connection
	negotiation       NegotiationState
	iceState          ICEState
	remoteApplied     bool
	candidates        []webrtc.ICECandidateInit
	reconnectAttempts int
	lastStateChange   time.Time
	videoSource       VideoSource
	closed            bool
}

func NewPeerRecord(id PeerID, displayName, generation string) *PeerRecord {
	now := time.Now()
	return &PeerRecord{
		ID:              id,
		Generation:      generation,
		CreatedAt:       now,
		displayName:     displayName,
		negotiation:     NegotiationStable,
		iceState:        ICENew,
		lastStateChange: now,
		videoSource:     SourceCamera,
	}
}

// LockNegotiation serializes offer/answer work for this peer.
func (r *PeerRecord) LockNegotiation() func() {
	r.negMu.Lock()
	return r.negMu.Unlock
}

func (r *PeerRecord) DisplayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.displayName
}

func (r *PeerRecord) SetDisplayName(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.displayName = name
	r.mu.Unlock()
}

func (r *PeerRecord) Conn() Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// AttachConn binds the underlying connection. A closed record closes conn immediately.
func (r *PeerRecord) AttachConn(conn Connection) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return false
	}
	r.conn = conn
	r.mu.Unlock()
	return true
}

func (r *PeerRecord) Negotiation() NegotiationState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.negotiation
}

func (r *PeerRecord) SetNegotiation(s NegotiationState) {
	r.mu.Lock()
	r.negotiation = s
	r.mu.Unlock()
}

func (r *PeerRecord) ICEState() ICEState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.iceState
}

// SetICEState records a connectivity change and returns the previous state.
func (r *PeerRecord) SetICEState(s ICEState) ICEState {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.iceState
	if prev != s {
		r.iceState = s
		r.lastStateChange = time.Now()
	}
	return prev
}

func (r *PeerRecord) LastStateChange() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStateChange
}

func (r *PeerRecord) RemoteDescriptionApplied() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remoteApplied
}

// QueueCandidate buffers c if no remote description has been applied yet.
// It reports false when the caller must apply c directly.
func (r *PeerRecord) QueueCandidate(c webrtc.ICECandidateInit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remoteApplied || r.closed {
		return false
	}
	r.candidates = append(r.candidates, c)
	return true
}

// MarkRemoteApplied flips the remote-description flag and hands back the
// buffered candidates in receipt order. Only the first call returns any.
func (r *PeerRecord) MarkRemoteApplied() []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remoteApplied {
		return nil
	}
	r.remoteApplied = true
	pending := r.candidates
	r.candidates = nil
	return pending
}

// ResetRemoteApplied reopens the candidate buffer after a rollback. Queued
// candidates are kept for the next remote description.
func (r *PeerRecord) ResetRemoteApplied() {
	r.mu.Lock()
	r.remoteApplied = false
	r.mu.Unlock()
}

func (r *PeerRecord) PendingCandidates() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}

func (r *PeerRecord) ReconnectAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnectAttempts
}

func (r *PeerRecord) IncrementReconnectAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectAttempts++
	return r.reconnectAttempts
}

func (r *PeerRecord) ResetReconnectAttempts() {
	r.mu.Lock()
	r.reconnectAttempts = 0
	r.mu.Unlock()
}

func (r *PeerRecord) VideoSource() VideoSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.videoSource
}

func (r *PeerRecord) SetVideoSource(s VideoSource) {
	r.mu.Lock()
	r.videoSource = s
	r.mu.Unlock()
}

func (r *PeerRecord) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close releases the connection and drops queued candidates. Safe to repeat.
func (r *PeerRecord) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.candidates = nil
	r.iceState = ICEClosed
	r.lastStateChange = time.Now()
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// PeerView is a read-only copy of a record for reporting.
type PeerView struct {
	ID                PeerID           `json:"id"`
	DisplayName       string           `json:"display_name"`
	Negotiation       NegotiationState `json:"negotiation"`
	ICEState          ICEState         `json:"ice_state"`
	VideoSource       VideoSource      `json:"video_source"`
	PendingCandidates int              `json:"pending_candidates"`
	ReconnectAttempts int              `json:"reconnect_attempts"`
	LastStateChange   time.Time        `json:"last_state_change"`
}

func (r *PeerRecord) View() PeerView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return PeerView{
		ID:                r.ID,
		DisplayName:       r.displayName,
		Negotiation:       r.negotiation,
		ICEState:          r.iceState,
		VideoSource:       r.videoSource,
		PendingCandidates: len(r.candidates),
		ReconnectAttempts: r.reconnectAttempts,
		LastStateChange:   r.lastStateChange,
	}
}
