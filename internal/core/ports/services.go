package ports

import (
	"context"
	"time"

	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalHandler receives one decoded inbound message.
type SignalHandler func(domain.Signal)

// SignalingTransport is the client side of the relay connection.
type SignalingTransport interface {
	Connect(ctx context.Context, room domain.RoomID, displayName string) error
	Disconnect()
	Send(ctx context.Context, msg domain.Signal) error
	On(kind domain.MessageKind, handler SignalHandler)
	OnStateChange(fn func(domain.ConnectionState))
	State() domain.ConnectionState
	LocalID() domain.PeerID
	Mode() domain.TransportMode
	ReconnectAttempts() int
}

// TransportConn is one open link to the relay in a given mode.
type TransportConn interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks until one envelope arrives or the link fails.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type TransportDialer interface {
	Mode() domain.TransportMode
	Dial(ctx context.Context) (TransportConn, error)
}

// ConnectionHandlers are invoked from the connection's own goroutines.
type ConnectionHandlers struct {
	OnICECandidate   func(webrtc.ICECandidateInit)
	OnICEStateChange func(domain.ICEState)
	OnTrack          func(domain.RemoteTrack)
}

type ConnectionSpec struct {
	PeerID     domain.PeerID
	AudioTrack webrtc.TrackLocal
	VideoTrack webrtc.TrackLocal
	Handlers   ConnectionHandlers
}

type ConnectionFactory interface {
	NewConnection(ctx context.Context, spec ConnectionSpec) (domain.Connection, error)
}

// LocalTrack is one captured track whose enabled flag can flip without recapture.
type LocalTrack interface {
	Kind() domain.MediaKind
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
}

type CaptureStream interface {
	AudioTrack() LocalTrack
	VideoTrack() LocalTrack
	// Ended is closed when capture stops on its own, e.g. a screen share ended by the user.
	Ended() <-chan struct{}
	Stop()
}

type CaptureDevice interface {
	Open(ctx context.Context, constraints domain.CaptureConstraints) (CaptureStream, error)
	OpenScreen(ctx context.Context, profile domain.QualityProfile) (CaptureStream, error)
}

type NetworkClassifier interface {
	Classify(ctx context.Context) domain.NetworkCondition
}

type Diagnostics interface {
	CheckConnectivity(ctx context.Context) (domain.ConnectivityReport, error)
}

// CallService is the call surface driven by the control API.
type CallService interface {
	StartCall(ctx context.Context, room domain.RoomID, displayName string) error
	HangUp(ctx context.Context) error
	Reconnect(ctx context.Context) error
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleAudio(ctx context.Context) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	Ping(ctx context.Context, peerID domain.PeerID) error
	Status() domain.CallStatus
	LastHealth() domain.HealthSnapshot
}

// EventSource exposes recent call events.
type EventSource interface {
	Events() []domain.CallEvent
}

// CallObserver is how the UI layer learns about the call.
type CallObserver interface {
	OnConnectionState(state domain.ConnectionState)
	OnParticipants(participants []domain.Participant)
	OnPeerState(peerID domain.PeerID, state domain.ICEState)
	OnRemoteTrack(track domain.RemoteTrack)
	OnHealth(snapshot domain.HealthSnapshot)
	OnEvent(event domain.CallEvent)
}

type CallMetrics interface {
	ObserveNegotiation(operation string, err error)
	SetPeers(n int)
	SetICEStates(counts map[domain.ICEState]int)
	IncICERestart()
	IncRestartExhausted()
	IncDiagnostics(reachable bool)
	ObserveRTT(peerID domain.PeerID, rtt time.Duration)
	SetTransportState(state domain.ConnectionState)
	IncTransportAttempt(mode domain.TransportMode, success bool)
	IncSignal(kind domain.MessageKind, direction string)
	IncMediaError(category domain.MediaErrorCategory)
	IncRTCP(packetType string)
}
