package domain

import "errors"

var (
	ErrPeerNotFound          = errors.New("peer not found")
	ErrNegotiationInProgress = errors.New("negotiation already in progress")
	ErrNoPendingOffer        = errors.New("no local offer pending")
	ErrGlareIgnored          = errors.New("remote offer ignored during glare")
	ErrStaleRecord           = errors.New("peer record replaced or removed")
	ErrNoConnection          = errors.New("peer has no connection")
	ErrNotConnected          = errors.New("signaling transport not connected")
	ErrTransportExhausted    = errors.New("signaling transport fallback exhausted")
	ErrHandshakeTimeout      = errors.New("signaling handshake timed out")
	ErrUnknownMessage        = errors.New("unknown signaling message")
	ErrCallActive            = errors.New("call already active")
	ErrCallNotActive         = errors.New("no active call")
	ErrNoLocalStream         = errors.New("local stream not acquired")
	ErrPermissionDenied      = errors.New("capture permission denied")
	ErrDeviceNotFound        = errors.New("capture device not found")
	ErrDeviceInUse           = errors.New("capture device in use")
	ErrScreenShareActive     = errors.New("screen share already active")
	ErrScreenShareInactive   = errors.New("screen share not active")
)
