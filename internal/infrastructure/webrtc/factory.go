package webrtc

import (
	"context"
	"fmt"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// WebRTCConfig WebRTC configuration
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// PeerConnectionFactory builds one pion peer connection per remote participant.
type PeerConnectionFactory struct {
	config  WebRTCConfig
	api     *webrtc.API
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger
}

func NewPeerConnectionFactory(config WebRTCConfig, metrics ports.CallMetrics, logger *zap.SugaredLogger) (*PeerConnectionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &PeerConnectionFactory{
		config:  config,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)),
		metrics: metrics,
		logger:  logger,
	}, nil
}

// NewConnection creates the connection and attaches one sender per media kind.
// A kind with no local track still gets a sendrecv transceiver so a track
// can be swapped in later without renegotiating.
func (f *PeerConnectionFactory) NewConnection(ctx context.Context, spec ports.ConnectionSpec) (domain.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &peerConnection{
		factory:    f,
		peerID:     spec.PeerID,
		handlers:   spec.Handlers,
		audioTrack: spec.AudioTrack,
		videoTrack: spec.VideoTrack,
		metrics:    f.metrics,
		logger:     f.logger,
	}
	l, err := conn.open()
	if err != nil {
		return nil, err
	}
	conn.link = l

	f.logger.Debugw("peer connection created",
		"peer_id", spec.PeerID,
		"audio", spec.AudioTrack != nil,
		"video", spec.VideoTrack != nil,
	)
	return conn, nil
}

func (f *PeerConnectionFactory) newPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// ICEServersFromConfig converts config descriptors to pion's type.
func ICEServersFromConfig(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}
