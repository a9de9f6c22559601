package domain

import "time"

type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// CallEvent is a log or diagnostic notice surfaced to the UI layer.
type CallEvent struct {
	Time    time.Time  `json:"time"`
	Level   EventLevel `json:"level"`
	Phase   string     `json:"phase"`
	PeerID  PeerID     `json:"peer_id,omitempty"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`
	Remedy  Remedy     `json:"remedy,omitempty"`
}

// ConnectivityReport is the result of a broader network check.
type ConnectivityReport struct {
	CheckedAt  time.Time     `json:"checked_at"`
	Reachable  bool          `json:"reachable"`
	Server     string        `json:"server,omitempty"`
	MappedAddr string        `json:"mapped_addr,omitempty"`
	RTT        time.Duration `json:"rtt"`
	Error      string        `json:"error,omitempty"`
}
