package services

import (
	"context"
	"fmt"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/tracing"
	"meshcall/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NegotiationService drives the offer/answer state machine of every peer.
// At most one offer/answer cycle runs per peer at a time.
type NegotiationService struct {
	registry ports.PeerRegistry
	localID  func() domain.PeerID
	metrics  ports.CallMetrics
	logger   *zap.SugaredLogger
}

func NewNegotiationService(
	registry ports.PeerRegistry,
	localID func() domain.PeerID,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *NegotiationService {
	return &NegotiationService{
		registry: registry,
		localID:  localID,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *NegotiationService) lookup(peerID domain.PeerID) (*domain.PeerRecord, domain.Connection, error) {
	rec, ok := s.registry.Get(peerID)
	if !ok || rec.Closed() {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peerID)
	}
	conn := rec.Conn()
	if conn == nil {
		return rec, nil, fmt.Errorf("%w: %s", domain.ErrNoConnection, peerID)
	}
	return rec, conn, nil
}

// CreateOffer moves a stable peer to have-local-offer and returns the offer
// to send. ICE restarts reuse the same path with new credentials.
func (s *NegotiationService) CreateOffer(ctx context.Context, peerID domain.PeerID, opts domain.OfferOptions) (offer webrtc.SessionDescription, err error) {
	_, span := tracing.TraceNegotiation(ctx, "offer", string(peerID),
		tracing.ICERestartKey.Bool(opts.ICERestart),
		tracing.ReconnectKey.Bool(opts.Reconnect),
	)
	defer func() {
		s.metrics.ObserveNegotiation("offer", err)
		tracing.End(span, err)
	}()

	rec, conn, err := s.lookup(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	unlock := rec.LockNegotiation()
	defer unlock()

	if state := rec.Negotiation(); state != domain.NegotiationStable {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: peer %s is %s", domain.ErrNegotiationInProgress, peerID, state)
	}

	offer, err = conn.CreateOffer(&webrtc.OfferOptions{ICERestart: opts.ICERestart})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err = conn.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	rec.SetNegotiation(domain.NegotiationHaveLocalOffer)

	s.logger.Debugw("Offer created",
		"peer_id", peerID,
		"phase", "negotiation",
		"ice_restart", opts.ICERestart,
		"reconnect", opts.Reconnect,
	)
	return offer, nil
}

// ApplyRemoteOffer applies an inbound offer and returns the answer to send.
// During glare the polite side rolls back its own offer and the impolite
// side rejects the inbound one with ErrGlareIgnored.
func (s *NegotiationService) ApplyRemoteOffer(ctx context.Context, peerID domain.PeerID, offer webrtc.SessionDescription, isICERestart bool) (answer webrtc.SessionDescription, err error) {
	_, span := tracing.TraceNegotiation(ctx, "answer", string(peerID),
		tracing.ICERestartKey.Bool(isICERestart),
	)
	defer func() {
		s.metrics.ObserveNegotiation("answer", err)
		tracing.End(span, err)
	}()

	if err = validation.ValidateSDP(offer.SDP); err != nil {
		return webrtc.SessionDescription{}, err
	}

	rec, conn, err := s.lookup(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	unlock := rec.LockNegotiation()
	defer unlock()

	switch rec.Negotiation() {
	case domain.NegotiationHaveLocalOffer:
		if !domain.IsPolite(s.localID(), peerID) {
			s.logger.Infow("Ignoring colliding offer",
				"peer_id", peerID,
				"phase", "negotiation",
			)
			return webrtc.SessionDescription{}, domain.ErrGlareIgnored
		}
		if err = s.rollback(rec, conn); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("rollback local offer: %w", err)
		}
		s.logger.Infow("Rolled back local offer for colliding offer",
			"peer_id", peerID,
			"phase", "negotiation",
		)
	case domain.NegotiationHaveRemoteOffer:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: peer %s is answering", domain.ErrNegotiationInProgress, peerID)
	}

	offer.Type = webrtc.SDPTypeOffer
	if err = conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	rec.SetNegotiation(domain.NegotiationHaveRemoteOffer)

	answer, err = conn.CreateAnswer(nil)
	if err == nil {
		err = conn.SetLocalDescription(answer)
	}
	if err != nil {
		if rbErr := s.rollback(rec, conn); rbErr != nil {
			s.logger.Warnw("Failed to roll back remote offer",
				"peer_id", peerID,
				"phase", "negotiation",
				"error", rbErr,
			)
		}
		return webrtc.SessionDescription{}, fmt.Errorf("answer offer: %w", err)
	}
	rec.SetNegotiation(domain.NegotiationStable)
	s.flushCandidates(rec, conn)

	s.logger.Debugw("Answer created",
		"peer_id", peerID,
		"phase", "negotiation",
		"ice_restart", isICERestart,
	)
	return answer, nil
}

// ApplyRemoteAnswer completes a cycle started by CreateOffer. A failed
// answer is not retried; the local offer is rolled back to stable.
func (s *NegotiationService) ApplyRemoteAnswer(ctx context.Context, peerID domain.PeerID, answer webrtc.SessionDescription) (err error) {
	_, span := tracing.TraceNegotiation(ctx, "apply_answer", string(peerID))
	defer func() {
		s.metrics.ObserveNegotiation("apply_answer", err)
		tracing.End(span, err)
	}()

	rec, conn, err := s.lookup(peerID)
	if err != nil {
		return err
	}

	unlock := rec.LockNegotiation()
	defer unlock()

	if rec.Negotiation() != domain.NegotiationHaveLocalOffer {
		return fmt.Errorf("%w: peer %s", domain.ErrNoPendingOffer, peerID)
	}

	if err = validation.ValidateSDP(answer.SDP); err == nil {
		answer.Type = webrtc.SDPTypeAnswer
		err = conn.SetRemoteDescription(answer)
	}
	if err != nil {
		if rbErr := s.rollback(rec, conn); rbErr != nil {
			s.logger.Warnw("Failed to roll back local offer",
				"peer_id", peerID,
				"phase", "negotiation",
				"error", rbErr,
			)
		}
		return fmt.Errorf("apply answer: %w", err)
	}

	rec.SetNegotiation(domain.NegotiationStable)
	s.flushCandidates(rec, conn)
	return nil
}

// AbandonOffer rolls back an unanswered local offer so a new cycle can start.
// It is a no-op when the peer is not waiting for an answer.
func (s *NegotiationService) AbandonOffer(ctx context.Context, peerID domain.PeerID) (err error) {
	_, span := tracing.TraceNegotiation(ctx, "abandon", string(peerID))
	defer func() { tracing.End(span, err) }()

	rec, conn, err := s.lookup(peerID)
	if err != nil {
		return err
	}

	unlock := rec.LockNegotiation()
	defer unlock()

	if rec.Negotiation() != domain.NegotiationHaveLocalOffer {
		return nil
	}
	if err = s.rollback(rec, conn); err != nil {
		return fmt.Errorf("rollback local offer: %w", err)
	}
	s.logger.Infow("Abandoned unanswered offer",
		"peer_id", peerID,
		"phase", "negotiation",
	)
	return nil
}

// AddICECandidate buffers the candidate until a remote description exists,
// otherwise applies it immediately.
func (s *NegotiationService) AddICECandidate(ctx context.Context, peerID domain.PeerID, candidate webrtc.ICECandidateInit) (queued bool, err error) {
	_, span := tracing.TraceNegotiation(ctx, "candidate", string(peerID))
	defer func() {
		s.metrics.ObserveNegotiation("candidate", err)
		tracing.End(span, err)
	}()

	if err = validation.ValidateCandidate(candidate.Candidate); err != nil {
		return false, err
	}

	rec, ok := s.registry.Get(peerID)
	if !ok || rec.Closed() {
		return false, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peerID)
	}

	unlock := rec.LockNegotiation()
	defer unlock()

	if rec.QueueCandidate(candidate) {
		s.logger.Debugw("Candidate queued",
			"peer_id", peerID,
			"phase", "negotiation",
			"pending", rec.PendingCandidates(),
		)
		return true, nil
	}

	conn := rec.Conn()
	if conn == nil {
		return false, fmt.Errorf("%w: %s", domain.ErrNoConnection, peerID)
	}
	if err = conn.AddICECandidate(candidate); err != nil {
		return false, fmt.Errorf("add candidate: %w", err)
	}
	return false, nil
}

// rollback returns rec to stable. The connection comes back without a remote
// description, so candidates queue again until the next one is applied.
// The record is marked stable even when the connection refuses.
func (s *NegotiationService) rollback(rec *domain.PeerRecord, conn domain.Connection) error {
	err := conn.Rollback()
	rec.ResetRemoteApplied()
	rec.SetNegotiation(domain.NegotiationStable)
	return err
}

// flushCandidates must run with the record's negotiation lock held.
func (s *NegotiationService) flushCandidates(rec *domain.PeerRecord, conn domain.Connection) {
	pending := rec.MarkRemoteApplied()
	for _, c := range pending {
		if err := conn.AddICECandidate(c); err != nil {
			s.logger.Warnw("Failed to apply queued candidate",
				"peer_id", rec.ID,
				"phase", "negotiation",
				"error", err,
			)
		}
	}
	if len(pending) > 0 {
		s.logger.Debugw("Flushed queued candidates",
			"peer_id", rec.ID,
			"phase", "negotiation",
			"count", len(pending),
		)
	}
}
