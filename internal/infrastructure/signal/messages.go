package signal

import (
	"encoding/json"
	"fmt"

	"meshcall/internal/core/domain"
)

// Envelope is the wire frame for every signaling message.
type Envelope struct {
	Type    domain.MessageKind `json:"type"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

func Encode(msg domain.Signal) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(Envelope{Type: msg.Kind(), Payload: payload})
}

// Decode parses one envelope. Unknown kinds yield domain.ErrUnknownMessage.
func Decode(data []byte) (domain.Signal, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

func DecodeEnvelope(env Envelope) (domain.Signal, error) {
	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessage, env.Type)
	}
	msg, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

var decoders = map[domain.MessageKind]func(json.RawMessage) (domain.Signal, error){
	domain.KindConnected:    decodeAs[domain.Connected],
	domain.KindJoinRoom:     decodeAs[domain.JoinRoom],
	domain.KindRoomJoined:   decodeAs[domain.RoomJoined],
	domain.KindUserJoined:   decodeAs[domain.UserJoined],
	domain.KindUserLeft:     decodeAs[domain.UserLeft],
	domain.KindOffer:        decodeAs[domain.Offer],
	domain.KindAnswer:       decodeAs[domain.Answer],
	domain.KindICECandidate: decodeAs[domain.ICECandidate],
	domain.KindPingRequest:  decodeAs[domain.PingRequest],
	domain.KindPingResponse: decodeAs[domain.PingResponse],
	domain.KindError:        decodeAs[domain.ErrorMessage],
}

func decodeAs[T domain.Signal](raw json.RawMessage) (domain.Signal, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
