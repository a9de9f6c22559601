package domain

import "errors"

// VideoSource selects what feeds the outgoing video track.
type VideoSource string

const (
	SourceCamera VideoSource = "camera"
	SourceScreen VideoSource = "screen"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// QualityProfile is the capture profile chosen from network conditions.
type QualityProfile struct {
	Name       string
	Width      int
	Height     int
	FrameRate  int
	MaxBitrate int // kbps
}

var (
	ProfileLowBandwidth = QualityProfile{Name: "low", Width: 320, Height: 240, FrameRate: 15, MaxBitrate: 250}
	ProfileMobile       = QualityProfile{Name: "mobile", Width: 640, Height: 480, FrameRate: 24, MaxBitrate: 600}
	ProfileDefault      = QualityProfile{Name: "default", Width: 1280, Height: 720, FrameRate: 30, MaxBitrate: 1500}
)

// NetworkCondition is supplied by an external classifier.
type NetworkCondition struct {
	Mobile       bool
	LowBandwidth bool
}

// SelectProfile maps a network condition to a capture profile.
// Low bandwidth wins over mobile.
func SelectProfile(nc NetworkCondition) QualityProfile {
	switch {
	case nc.LowBandwidth:
		return ProfileLowBandwidth
	case nc.Mobile:
		return ProfileMobile
	default:
		return ProfileDefault
	}
}

// CaptureConstraints describes what to open on a capture device.
type CaptureConstraints struct {
	Audio   bool
	Video   bool
	Profile QualityProfile
}

// MediaErrorCategory is a user-facing class of capture failure.
type MediaErrorCategory string

const (
	MediaErrorPermissionDenied MediaErrorCategory = "permission_denied"
	MediaErrorNotFound         MediaErrorCategory = "device_not_found"
	MediaErrorInUse            MediaErrorCategory = "device_in_use"
	MediaErrorUnknown          MediaErrorCategory = "unknown"
)

// Remedy is the recovery affordance offered for a media error.
type Remedy string

const (
	RemedyRetry     Remedy = "retry"
	RemedyAudioOnly Remedy = "audio_only"
	RemedyDismiss   Remedy = "dismiss"
)

func (c MediaErrorCategory) Remedy() Remedy {
	switch c {
	case MediaErrorPermissionDenied:
		return RemedyRetry
	case MediaErrorNotFound:
		return RemedyAudioOnly
	default:
		return RemedyDismiss
	}
}

// CategorizeMediaError classifies a capture failure by its sentinel.
func CategorizeMediaError(err error) MediaErrorCategory {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return MediaErrorPermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		return MediaErrorNotFound
	case errors.Is(err, ErrDeviceInUse):
		return MediaErrorInUse
	default:
		return MediaErrorUnknown
	}
}

// RemoteTrack carries what a video tile needs to attach an inbound track.
type RemoteTrack struct {
	PeerID   PeerID    `json:"peer_id"`
	TrackID  string    `json:"track_id"`
	StreamID string    `json:"stream_id"`
	Kind     MediaKind `json:"kind"`
	Codec    string    `json:"codec"`
}
