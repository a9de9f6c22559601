package domain

import "github.com/pion/webrtc/v3"

// MessageKind is the closed set of signaling event types.
type MessageKind string

const (
	KindConnected    MessageKind = "connected"
	KindJoinRoom     MessageKind = "join-room"
	KindRoomJoined   MessageKind = "room-joined"
	KindUserJoined   MessageKind = "user-joined"
	KindUserLeft     MessageKind = "user-left"
	KindOffer        MessageKind = "offer"
	KindAnswer       MessageKind = "answer"
	KindICECandidate MessageKind = "ice-candidate"
	KindPingRequest  MessageKind = "ping-request"
	KindPingResponse MessageKind = "ping-response"
	KindError        MessageKind = "error"
)

var AllMessageKinds = []MessageKind{
	KindConnected, KindJoinRoom, KindRoomJoined, KindUserJoined, KindUserLeft,
	KindOffer, KindAnswer, KindICECandidate, KindPingRequest, KindPingResponse, KindError,
}

func (k MessageKind) Valid() bool {
	for _, known := range AllMessageKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Signal is one signaling message. The set of implementations is closed.
type Signal interface {
	Kind() MessageKind
	signal()
}

type Connected struct {
	ID PeerID `json:"id"`
}

type JoinRoom struct {
	RoomID      RoomID `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type RoomJoined struct {
	RoomID RoomID        `json:"roomId"`
	Users  []Participant `json:"users"`
}

type UserJoined struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName"`
}

type UserLeft struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Offer is addressed with To on the way out and carries From on the way in.
type Offer struct {
	To           PeerID `json:"to,omitempty"`
	From         PeerID `json:"from,omitempty"`
	SDP          string `json:"sdp"`
	DisplayName  string `json:"displayName,omitempty"`
	IsICERestart bool   `json:"isIceRestart"`
	IsReconnect  bool   `json:"isReconnect"`
}

type Answer struct {
	To           PeerID `json:"to,omitempty"`
	From         PeerID `json:"from,omitempty"`
	SDP          string `json:"sdp"`
	DisplayName  string `json:"displayName,omitempty"`
	IsICERestart bool   `json:"isIceRestart"`
}

type ICECandidate struct {
	To        PeerID                  `json:"to,omitempty"`
	From      PeerID                  `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// PingRequest uses TargetID outbound; the relay fills UserID with the sender.
type PingRequest struct {
	TargetID  PeerID `json:"targetId,omitempty"`
	UserID    PeerID `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type PingResponse struct {
	TargetID  PeerID `json:"targetId,omitempty"`
	UserID    PeerID `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (Connected) Kind() MessageKind    { return KindConnected }
func (JoinRoom) Kind() MessageKind     { return KindJoinRoom }
func (RoomJoined) Kind() MessageKind   { return KindRoomJoined }
func (UserJoined) Kind() MessageKind   { return KindUserJoined }
func (UserLeft) Kind() MessageKind     { return KindUserLeft }
func (Offer) Kind() MessageKind        { return KindOffer }
func (Answer) Kind() MessageKind       { return KindAnswer }
func (ICECandidate) Kind() MessageKind { return KindICECandidate }
func (PingRequest) Kind() MessageKind  { return KindPingRequest }
func (PingResponse) Kind() MessageKind { return KindPingResponse }
func (ErrorMessage) Kind() MessageKind { return KindError }

func (Connected) signal()    {}
func (JoinRoom) signal()     {}
func (RoomJoined) signal()   {}
func (UserJoined) signal()   {}
func (UserLeft) signal()     {}
func (Offer) signal()        {}
func (Answer) signal()       {}
func (ICECandidate) signal() {}
func (PingRequest) signal()  {}
func (PingResponse) signal() {}
func (ErrorMessage) signal() {}

// OfferOptions tags an outbound offer.
type OfferOptions struct {
	ICERestart bool
	Reconnect  bool
}

// IsPolite reports whether local yields during glare with remote.
// The lexically lower identity is polite.
func IsPolite(local, remote PeerID) bool {
	return local < remote
}
