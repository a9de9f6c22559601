package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var errNoVideoSender = errors.New("connection has no video sender")

// link is one pion connection with its two senders.
type link struct {
	pc          *webrtc.PeerConnection
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

// peerConnection adapts a pion PeerConnection to domain.Connection.
type peerConnection struct {
	factory  *PeerConnectionFactory
	peerID   domain.PeerID
	handlers ports.ConnectionHandlers

	metrics ports.CallMetrics
	logger  *zap.SugaredLogger

	mu         sync.RWMutex
	link       link
	audioTrack webrtc.TrackLocal
	videoTrack webrtc.TrackLocal
	closed     bool

	closeOnce sync.Once
	closeErr  error
}

// open builds a pion connection carrying the current tracks. The caller
// installs the result.
func (c *peerConnection) open() (link, error) {
	pc, err := c.factory.newPeerConnection()
	if err != nil {
		return link{}, err
	}
	l := link{pc: pc}
	if l.audioSender, err = c.attachSender(pc, webrtc.RTPCodecTypeAudio, c.audioTrack); err != nil {
		_ = pc.Close()
		return link{}, err
	}
	if l.videoSender, err = c.attachSender(pc, webrtc.RTPCodecTypeVideo, c.videoTrack); err != nil {
		_ = pc.Close()
		return link{}, err
	}
	c.bind(pc)
	return l, nil
}

func (c *peerConnection) current() link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link
}

// owns reports whether pc is still the live connection. Events from a
// connection replaced by Rollback are dropped.
func (c *peerConnection) owns(pc *webrtc.PeerConnection) bool {
	return c.current().pc == pc
}

func (c *peerConnection) attachSender(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType, track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	var sender *webrtc.RTPSender
	if track != nil {
		s, err := pc.AddTrack(track)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s track: %w", kind, err)
		}
		sender = s
	} else {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
		sender = tr.Sender()
	}

	go c.readRTCP(sender, kind)
	return sender, nil
}

func (c *peerConnection) bind(pc *webrtc.PeerConnection) {
	h := c.handlers
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil || h.OnICECandidate == nil || !c.owns(pc) {
			return
		}
		h.OnICECandidate(candidate.ToJSON())
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if !c.owns(pc) {
			return
		}
		c.logger.Infow("peer ICE connection state changed",
			"peer_id", c.peerID,
			"ice_state", state.String(),
		)
		if h.OnICEStateChange != nil {
			h.OnICEStateChange(mapICEState(state))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go c.drain(track)
		if !c.owns(pc) {
			return
		}
		kind := domain.KindVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = domain.KindAudio
		}
		c.logger.Infow("remote track received",
			"peer_id", c.peerID,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		if h.OnTrack != nil {
			h.OnTrack(domain.RemoteTrack{
				PeerID:   c.peerID,
				TrackID:  track.ID(),
				StreamID: track.StreamID(),
				Kind:     kind,
				Codec:    track.Codec().MimeType,
			})
		}
	})
}

// drain consumes inbound RTP so the receive buffers keep moving.
func (c *peerConnection) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// readRTCP processes RTCP feedback arriving for one sender until it closes.
func (c *peerConnection) readRTCP(sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debugw("RTCP reader stopped",
					"peer_id", c.peerID,
					"kind", kind.String(),
					"error", err,
				)
			}
			return
		}
		c.processRTCPPackets(packets)
	}
}

func (c *peerConnection) processRTCPPackets(packets []rtcp.Packet) {
	for _, packet := range packets {
		label := rtcpLabel(packet)
		c.metrics.IncRTCP(label)
		if label == "pli" || label == "nack" {
			c.logger.Debugw("received RTCP feedback",
				"peer_id", c.peerID,
				"type", label,
			)
		}
	}
}

func rtcpLabel(packet rtcp.Packet) string {
	switch packet.(type) {
	case *rtcp.PictureLossIndication:
		return "pli"
	case *rtcp.FullIntraRequest:
		return "fir"
	case *rtcp.TransportLayerNack:
		return "nack"
	case *rtcp.ReceiverReport:
		return "receiver_report"
	case *rtcp.SenderReport:
		return "sender_report"
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return "remb"
	default:
		return "other"
	}
}

func mapICEState(state webrtc.ICEConnectionState) domain.ICEState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return domain.ICEChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.ICEConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ICEDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ICEFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ICEClosed
	default:
		return domain.ICENew
	}
}

// CreateOffer drops the ICE restart flag on a connection that never completed
// a negotiation, such as one rebuilt by Rollback. pion cannot restart an ICE
// agent it has not created, and the credentials are fresh anyway.
func (c *peerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	pc := c.current().pc
	if options != nil && options.ICERestart && pc.CurrentLocalDescription() == nil {
		fresh := *options
		fresh.ICERestart = false
		options = &fresh
	}
	return pc.CreateOffer(options)
}

func (c *peerConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return c.current().pc.CreateAnswer(options)
}

func (c *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.current().pc.SetLocalDescription(desc)
}

func (c *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.current().pc.SetRemoteDescription(desc)
}

func (c *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.current().pc.AddICECandidate(candidate)
}

// ReplaceVideoTrack swaps the outgoing video without renegotiation.
func (c *peerConnection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link.videoSender == nil {
		return errNoVideoSender
	}
	if err := c.link.videoSender.ReplaceTrack(track); err != nil {
		return err
	}
	c.videoTrack = track
	return nil
}

// Rollback discards a pending offer. pion v3 accepts no rollback
// transition, so the pion connection is replaced by a fresh one carrying
// the same tracks and handlers.
func (c *peerConnection) Rollback() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return webrtc.ErrConnectionClosed
	}
	old := c.link
	state := old.pc.SignalingState()
	if state == webrtc.SignalingStateStable {
		c.mu.Unlock()
		return nil
	}
	l, err := c.open()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("rollback from %s: %w", state, err)
	}
	c.link = l
	c.mu.Unlock()

	if err := old.pc.Close(); err != nil {
		c.logger.Debugw("closing rolled back connection",
			"peer_id", c.peerID,
			"error", err,
		)
	}
	c.logger.Infow("peer connection rolled back",
		"peer_id", c.peerID,
		"from", state.String(),
	)
	return nil
}

func (c *peerConnection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pc := c.link.pc
		c.mu.Unlock()
		c.closeErr = pc.Close()
	})
	return c.closeErr
}
