package domain

import "time"

// HealthSnapshot is produced by every health sweep.
type HealthSnapshot struct {
	Timestamp  time.Time           `json:"timestamp"`
	States     map[PeerID]ICEState `json:"states"`
	Counts     map[ICEState]int    `json:"counts"`
	AllFailing bool                `json:"all_failing"`
	Restarted  []PeerID            `json:"restarted,omitempty"`
	Exhausted  []PeerID            `json:"exhausted,omitempty"`

	// Connectivity is set when every peer was failing.
	Connectivity *ConnectivityReport `json:"connectivity,omitempty"`
}

// Failing counts peers in a state that calls for restart.
func (h HealthSnapshot) Failing() int {
	return h.Counts[ICEFailed] + h.Counts[ICEDisconnected]
}

// CallStatus is what the UI layer reads about the current call.
type CallStatus struct {
	State         ConnectionState `json:"state"`
	RoomID        RoomID          `json:"room_id"`
	SelfID        PeerID          `json:"self_id"`
	DisplayName   string          `json:"display_name"`
	VideoEnabled  bool            `json:"video_enabled"`
	AudioEnabled  bool            `json:"audio_enabled"`
	ScreenSharing bool            `json:"screen_sharing"`
	Peers         []PeerView      `json:"peers"`
}
