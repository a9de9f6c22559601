package domain

type PeerID string
type RoomID string

// ConnectionState is the lifecycle state of the signaling transport.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateInRoom       ConnectionState = "in-room"
)

// TransportMode names one way of reaching the signaling relay.
type TransportMode string

const (
	TransportWebSocket TransportMode = "websocket"
	TransportPolling   TransportMode = "polling"
)

func (m TransportMode) Valid() bool {
	return m == TransportWebSocket || m == TransportPolling
}

// Participant is a remote user as announced by the relay.
type Participant struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName"`
}
