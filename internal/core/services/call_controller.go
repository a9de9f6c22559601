package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	apperrors "meshcall/pkg/errors"
	"meshcall/pkg/tracing"
	"meshcall/pkg/utils"
	"meshcall/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	taskQueueSize    = 128
	maxRelayErrorLen = 200
)

type CallConfig struct {
	Audio  bool
	Video  bool
	Health HealthConfig
}

// CallController is the composition root of a call. Every mutation of call
// state runs on a single loop goroutine fed through tasks.
type CallController struct {
	transport   ports.SignalingTransport
	registry    ports.PeerRegistry
	factory     ports.ConnectionFactory
	media       *MediaService
	negotiation *NegotiationService
	health      *HealthMonitor
	observer    ports.CallObserver
	metrics     ports.CallMetrics
	config      CallConfig
	logger      *zap.SugaredLogger

	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	active      bool
	joined      bool
	room        domain.RoomID
	displayName string
	selfID      domain.PeerID
	callCtx     context.Context
	cancelCall  context.CancelFunc
}

func NewCallController(
	transport ports.SignalingTransport,
	registry ports.PeerRegistry,
	factory ports.ConnectionFactory,
	media *MediaService,
	diagnostics ports.Diagnostics,
	observer ports.CallObserver,
	metrics ports.CallMetrics,
	config CallConfig,
	logger *zap.SugaredLogger,
) *CallController {
	if observer == nil {
		observer = NopObserver{}
	}
	c := &CallController{
		transport: transport,
		registry:  registry,
		factory:   factory,
		media:     media,
		observer:  observer,
		metrics:   metrics,
		config:    config,
		logger:    logger,
		tasks:     make(chan func(), taskQueueSize),
		stop:      make(chan struct{}),
		callCtx:   context.Background(),
	}
	c.negotiation = NewNegotiationService(registry, transport.LocalID, metrics, logger)
	c.health = NewHealthMonitor(registry, diagnostics, c.restartFromMonitor, config.Health, metrics, logger)

	c.transport.On(domain.KindRoomJoined, c.inbound(c.onRoomJoined))
	c.transport.On(domain.KindUserJoined, c.inbound(c.onUserJoined))
	c.transport.On(domain.KindUserLeft, c.inbound(c.onUserLeft))
	c.transport.On(domain.KindOffer, c.inbound(c.onOffer))
	c.transport.On(domain.KindAnswer, c.inbound(c.onAnswer))
	c.transport.On(domain.KindICECandidate, c.inbound(c.onCandidate))
	c.transport.On(domain.KindPingRequest, c.inbound(c.onPingRequest))
	c.transport.On(domain.KindPingResponse, c.inbound(c.onPingResponse))
	c.transport.On(domain.KindError, c.inbound(c.onRelayError))
	c.transport.OnStateChange(c.onTransportState)

	go c.loop()
	return c
}

func (c *CallController) loop() {
	for {
		select {
		case task := <-c.tasks:
			task()
		case <-c.stop:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the controller is closed.
func (c *CallController) post(fn func()) bool {
	select {
	case c.tasks <- fn:
		return true
	case <-c.stop:
		return false
	}
}

// run executes fn on the loop and waits for its result. Never call it from the loop.
func (c *CallController) run(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !c.post(func() { result <- fn() }) {
		return domain.ErrCallNotActive
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return domain.ErrCallNotActive
	}
}

func (c *CallController) inbound(handle func(domain.Signal)) ports.SignalHandler {
	return func(msg domain.Signal) {
		c.post(func() { handle(msg) })
	}
}

func (c *CallController) ctx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callCtx
}

// Active reports whether a call has been started and not yet ended.
func (c *CallController) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *CallController) localName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

// StartCall acquires local media, joins room and starts health sweeps.
func (c *CallController) StartCall(ctx context.Context, room domain.RoomID, displayName string) (err error) {
	if err := validation.ValidateRoomID(string(room)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	ctx, span := tracing.TraceCall(ctx, "start", string(room))
	defer func() { tracing.End(span, err) }()

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return domain.ErrCallActive
	}
	c.active = true
	c.joined = false
	c.selfID = ""
	c.room = room
	c.displayName = displayName
	c.callCtx, c.cancelCall = context.WithCancel(context.Background())
	callCtx := c.callCtx
	c.mu.Unlock()

	if c.config.Audio || c.config.Video {
		if err = c.media.AcquireLocalStream(ctx, c.config.Audio, c.config.Video); err != nil {
			c.abort()
			c.emitMediaError(err)
			return err
		}
	}

	if err = c.transport.Connect(ctx, room, displayName); err != nil {
		c.abort()
		c.media.Release()
		c.emit(domain.EventError, "transport", "", "Could not reach the signaling server", string(apperrors.ErrCodeTransportExhausted), domain.RemedyRetry)
		return err
	}

	go c.health.Run(callCtx, c.onHealth)

	c.logger.Infow("Call started",
		"room_id", room,
		"peer_id", c.transport.LocalID(),
		"mode", c.transport.Mode(),
	)
	return nil
}

func (c *CallController) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if c.cancelCall != nil {
		c.cancelCall()
	}
}

// HangUp leaves the room and releases every connection and capture stream.
func (c *CallController) HangUp(ctx context.Context) (err error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return domain.ErrCallNotActive
	}
	room := c.room
	c.mu.Unlock()

	_, span := tracing.TraceCall(ctx, "hangup", string(room))
	defer func() { tracing.End(span, err) }()

	c.endCall()
	c.transport.Disconnect()

	err = c.run(ctx, func() error {
		c.removeAll()
		return nil
	})
	c.observer.OnParticipants(nil)

	c.logger.Infow("Call ended", "room_id", room)
	return err
}

// endCall marks the call inactive and stops background work.
func (c *CallController) endCall() {
	c.mu.Lock()
	c.active = false
	c.joined = false
	c.selfID = ""
	if c.cancelCall != nil {
		c.cancelCall()
		c.cancelCall = nil
	}
	c.callCtx = context.Background()
	c.mu.Unlock()

	c.media.Release()
	c.health.Reset()
}

func (c *CallController) removeAll() {
	for _, id := range c.registry.IDs() {
		c.removePeer(id)
	}
}

// Reconnect re-establishes signaling. The fresh room snapshot reconciles peers.
func (c *CallController) Reconnect(ctx context.Context) (err error) {
	c.mu.RLock()
	active, room, name := c.active, c.room, c.displayName
	c.mu.RUnlock()
	if !active {
		return domain.ErrCallNotActive
	}

	ctx, span := tracing.TraceCall(ctx, "reconnect", string(room))
	defer func() { tracing.End(span, err) }()

	c.logger.Infow("Manual reconnect", "room_id", room, "phase", "transport")
	return c.transport.Connect(ctx, room, name)
}

func (c *CallController) ToggleVideo(ctx context.Context) (bool, error) {
	if !c.Active() {
		return false, domain.ErrCallNotActive
	}
	return c.media.ToggleVideo()
}

func (c *CallController) ToggleAudio(ctx context.Context) (bool, error) {
	if !c.Active() {
		return false, domain.ErrCallNotActive
	}
	return c.media.ToggleAudio()
}

// ToggleScreenShare swaps the outgoing video of every peer between camera
// and screen in one pass on the loop. It reports whether sharing is now on.
func (c *CallController) ToggleScreenShare(ctx context.Context) (bool, error) {
	if !c.Active() {
		return false, domain.ErrCallNotActive
	}

	var sharing bool
	err := c.run(ctx, func() error {
		if c.media.VideoSource() == domain.SourceScreen {
			return c.stopScreenShare()
		}
		track, err := c.media.StartScreenShare(ctx, func() {
			c.post(func() {
				if c.media.VideoSource() == domain.SourceScreen {
					c.emit(domain.EventInfo, "media", "", "Screen share ended", "", "")
					_ = c.stopScreenShare()
				}
			})
		})
		if err != nil {
			c.emitMediaError(err)
			return err
		}
		c.swapVideo(track, domain.SourceScreen)
		sharing = true
		return nil
	})
	return sharing, err
}

// stopScreenShare runs on the loop.
func (c *CallController) stopScreenShare() error {
	camera, err := c.media.StopScreenShare()
	if err != nil {
		return err
	}
	c.swapVideo(camera, domain.SourceCamera)
	return nil
}

// swapVideo runs on the loop so no peer is created between two replacements.
// A peer whose sender refuses the track keeps its previous source and is
// reported with a warning event.
func (c *CallController) swapVideo(track webrtc.TrackLocal, source domain.VideoSource) {
	failed := 0
	for id, rec := range c.registry.All() {
		if conn := rec.Conn(); conn != nil {
			if err := conn.ReplaceVideoTrack(track); err != nil {
				failed++
				c.logger.Warnw("Failed to replace video track",
					"peer_id", id,
					"phase", "media",
					"source", source,
					"error", err,
				)
				c.emit(domain.EventWarn, "media", id, fmt.Sprintf("Could not switch video to %s for this peer", source),
					string(apperrors.ErrCodeTrackSwapFailed), domain.RemedyDismiss)
				continue
			}
		}
		rec.SetVideoSource(source)
	}
	c.logger.Infow("Outgoing video switched",
		"phase", "media",
		"source", source,
		"peers", c.registry.Len(),
		"failed", failed,
	)
}

// Ping asks a peer to echo a timestamp through the relay.
func (c *CallController) Ping(ctx context.Context, peerID domain.PeerID) error {
	if !c.Active() {
		return domain.ErrCallNotActive
	}
	if !c.registry.Has(peerID) {
		return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peerID)
	}
	return c.transport.Send(ctx, domain.PingRequest{
		TargetID:  peerID,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *CallController) Status() domain.CallStatus {
	c.mu.RLock()
	status := domain.CallStatus{
		RoomID:      c.room,
		DisplayName: c.displayName,
	}
	active := c.active
	c.mu.RUnlock()

	status.State = c.transport.State()
	if active {
		status.SelfID = c.transport.LocalID()
		status.VideoEnabled = c.media.VideoEnabled()
		status.AudioEnabled = c.media.AudioEnabled()
		status.ScreenSharing = c.media.VideoSource() == domain.SourceScreen
	}

	records := c.registry.All()
	status.Peers = make([]domain.PeerView, 0, len(records))
	for _, rec := range records {
		status.Peers = append(status.Peers, rec.View())
	}
	sort.Slice(status.Peers, func(i, j int) bool { return status.Peers[i].ID < status.Peers[j].ID })
	return status
}

func (c *CallController) LastHealth() domain.HealthSnapshot {
	return c.health.LastSnapshot()
}

// Close hangs up if needed and stops the loop.
func (c *CallController) Close(ctx context.Context) {
	if c.Active() {
		if err := c.HangUp(ctx); err != nil {
			c.logger.Warnw("Hang up on close failed", "error", err)
		}
	}
	c.stopOnce.Do(func() { close(c.stop) })
}

// ensurePeer returns the record for id, creating it and its connection when
// missing. Runs on the loop.
func (c *CallController) ensurePeer(id domain.PeerID, displayName string) (*domain.PeerRecord, error) {
	rec, created := c.registry.Upsert(id, displayName)
	if rec.Conn() != nil {
		return rec, nil
	}

	conn, err := c.factory.NewConnection(c.ctx(), ports.ConnectionSpec{
		PeerID:     id,
		AudioTrack: c.media.AudioTrack(),
		VideoTrack: c.media.OutgoingVideoTrack(),
		Handlers:   c.connectionHandlers(id, rec.Generation),
	})
	if err != nil {
		c.registry.Remove(id)
		return nil, fmt.Errorf("create connection for %s: %w", id, err)
	}
	if !rec.AttachConn(conn) {
		return nil, domain.ErrStaleRecord
	}
	rec.SetVideoSource(c.media.VideoSource())

	if created {
		c.logger.Infow("Peer added",
			"peer_id", id,
			"phase", "registry",
			"display_name", rec.DisplayName(),
		)
		c.observer.OnPeerState(id, rec.ICEState())
		c.metrics.SetPeers(c.registry.Len())
	}
	return rec, nil
}

// current returns the record only if it is still generation gen.
func (c *CallController) current(id domain.PeerID, gen string) (*domain.PeerRecord, bool) {
	rec, ok := c.registry.Get(id)
	if !ok || rec.Generation != gen || rec.Closed() {
		return nil, false
	}
	return rec, true
}

func (c *CallController) connectionHandlers(id domain.PeerID, gen string) ports.ConnectionHandlers {
	return ports.ConnectionHandlers{
		OnICECandidate: func(candidate webrtc.ICECandidateInit) {
			c.post(func() {
				if _, ok := c.current(id, gen); !ok {
					return
				}
				if err := c.transport.Send(c.ctx(), domain.ICECandidate{To: id, Candidate: candidate}); err != nil {
					c.logger.Debugw("Candidate not sent", "peer_id", id, "phase", "negotiation", "error", err)
				}
			})
		},
		OnICEStateChange: func(state domain.ICEState) {
			c.post(func() {
				rec, ok := c.current(id, gen)
				if !ok {
					return
				}
				if prev := rec.SetICEState(state); prev != state {
					c.observer.OnPeerState(id, state)
				}
			})
		},
		OnTrack: func(track domain.RemoteTrack) {
			c.post(func() {
				if _, ok := c.current(id, gen); ok {
					c.observer.OnRemoteTrack(track)
				}
			})
		},
	}
}

func (c *CallController) removePeer(id domain.PeerID) {
	if !c.registry.Remove(id) {
		return
	}
	c.logger.Infow("Peer removed", "peer_id", id, "phase", "registry")
	c.observer.OnPeerState(id, domain.ICEClosed)
	c.metrics.SetPeers(c.registry.Len())
}

// offer runs on the loop.
func (c *CallController) offer(id domain.PeerID, opts domain.OfferOptions) {
	ctx := c.ctx()
	sdp, err := c.negotiation.CreateOffer(ctx, id, opts)
	if err != nil {
		if errors.Is(err, domain.ErrNegotiationInProgress) {
			c.logger.Debugw("Offer skipped", "peer_id", id, "phase", "negotiation", "error", err)
			return
		}
		c.negotiationFailed(id, "offer", err)
		return
	}
	if err := c.transport.Send(ctx, domain.Offer{
		To:           id,
		SDP:          sdp.SDP,
		DisplayName:  c.localName(),
		IsICERestart: opts.ICERestart,
		IsReconnect:  opts.Reconnect,
	}); err != nil {
		c.logger.Warnw("Offer not sent", "peer_id", id, "phase", "negotiation", "error", err)
	}
}

func (c *CallController) onRoomJoined(msg domain.Signal) {
	joined := msg.(domain.RoomJoined)
	if !c.Active() {
		return
	}
	self := c.transport.LocalID()

	c.mu.Lock()
	previous := c.selfID
	c.selfID = self
	c.joined = true
	c.mu.Unlock()

	// A new identity means every remote side sees us as a new participant.
	reconnect := previous != "" && previous != self
	if reconnect {
		c.logger.Infow("Rejoined with new identity, rebuilding peers",
			"phase", "transport",
			"previous_id", previous,
			"peer_id", self,
		)
		c.removeAll()
	}

	present := make(map[domain.PeerID]string, len(joined.Users))
	for _, u := range joined.Users {
		if u.ID != self && u.ID != "" {
			present[u.ID] = u.DisplayName
		}
	}
	for _, id := range c.registry.IDs() {
		if _, ok := present[id]; !ok {
			c.removePeer(id)
		}
	}

	ids := make([]domain.PeerID, 0, len(present))
	for id := range present {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		existed := c.registry.Has(id)
		if _, err := c.ensurePeer(id, present[id]); err != nil {
			c.logger.Errorw("Failed to create peer", "peer_id", id, "phase", "registry", "error", err)
			continue
		}
		if !existed {
			c.offer(id, domain.OfferOptions{Reconnect: reconnect})
		}
	}

	c.logger.Infow("Room snapshot applied",
		"room_id", joined.RoomID,
		"peer_id", self,
		"peers", len(ids),
	)
	c.observer.OnParticipants(c.participants())
}

func (c *CallController) onUserJoined(msg domain.Signal) {
	user := msg.(domain.UserJoined)
	if !c.Active() || user.ID == "" || user.ID == c.transport.LocalID() {
		return
	}
	// The newcomer offers; existing members wait.
	if _, err := c.ensurePeer(user.ID, user.DisplayName); err != nil {
		c.logger.Errorw("Failed to create peer", "peer_id", user.ID, "phase", "registry", "error", err)
		return
	}
	c.emit(domain.EventInfo, "registry", user.ID, fmt.Sprintf("%s joined", displayOr(user.DisplayName, user.ID)), "", "")
	c.observer.OnParticipants(c.participants())
}

func (c *CallController) onUserLeft(msg domain.Signal) {
	user := msg.(domain.UserLeft)
	if !c.registry.Has(user.ID) {
		return
	}
	name := user.DisplayName
	if rec, ok := c.registry.Get(user.ID); ok && name == "" {
		name = rec.DisplayName()
	}
	c.removePeer(user.ID)
	c.emit(domain.EventInfo, "registry", user.ID, fmt.Sprintf("%s left", displayOr(name, user.ID)), "", "")
	c.observer.OnParticipants(c.participants())
}

func (c *CallController) onOffer(msg domain.Signal) {
	offer := msg.(domain.Offer)
	if !c.Active() || offer.From == "" || offer.From == c.transport.LocalID() {
		return
	}
	known := c.registry.Has(offer.From)
	if _, err := c.ensurePeer(offer.From, offer.DisplayName); err != nil {
		c.logger.Errorw("Failed to create peer for offer", "peer_id", offer.From, "phase", "registry", "error", err)
		return
	}
	if !known {
		c.observer.OnParticipants(c.participants())
	}

	ctx := c.ctx()
	answer, err := c.negotiation.ApplyRemoteOffer(ctx, offer.From,
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}, offer.IsICERestart)
	if err != nil {
		if errors.Is(err, domain.ErrGlareIgnored) {
			return
		}
		c.negotiationFailed(offer.From, "answer", err)
		return
	}

	if err := c.transport.Send(ctx, domain.Answer{
		To:           offer.From,
		SDP:          answer.SDP,
		DisplayName:  c.localName(),
		IsICERestart: offer.IsICERestart,
	}); err != nil {
		c.logger.Warnw("Answer not sent", "peer_id", offer.From, "phase", "negotiation", "error", err)
	}
}

func (c *CallController) onAnswer(msg domain.Signal) {
	answer := msg.(domain.Answer)
	if !c.Active() {
		return
	}
	if rec, ok := c.registry.Get(answer.From); ok {
		rec.SetDisplayName(answer.DisplayName)
	}
	err := c.negotiation.ApplyRemoteAnswer(c.ctx(), answer.From,
		webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP})
	if err != nil {
		c.negotiationFailed(answer.From, "apply_answer", err)
	}
}

func (c *CallController) onCandidate(msg domain.Signal) {
	cand := msg.(domain.ICECandidate)
	if !c.Active() || cand.From == "" || cand.From == c.transport.LocalID() {
		return
	}
	// A candidate may beat the offer; the record holds it until then.
	if _, err := c.ensurePeer(cand.From, ""); err != nil {
		c.logger.Errorw("Failed to create peer for candidate", "peer_id", cand.From, "phase", "registry", "error", err)
		return
	}
	if _, err := c.negotiation.AddICECandidate(c.ctx(), cand.From, cand.Candidate); err != nil {
		c.logger.Warnw("Candidate rejected", "peer_id", cand.From, "phase", "negotiation", "error", err)
	}
}

func (c *CallController) onPingRequest(msg domain.Signal) {
	ping := msg.(domain.PingRequest)
	if ping.UserID == "" {
		return
	}
	if err := c.transport.Send(c.ctx(), domain.PingResponse{
		TargetID:  ping.UserID,
		Timestamp: ping.Timestamp,
	}); err != nil {
		c.logger.Debugw("Ping response not sent", "peer_id", ping.UserID, "error", err)
	}
}

func (c *CallController) onPingResponse(msg domain.Signal) {
	pong := msg.(domain.PingResponse)
	rtt := time.Since(time.UnixMilli(pong.Timestamp))
	if rtt < 0 {
		return
	}
	c.metrics.ObserveRTT(pong.UserID, rtt)
	c.logger.Infow("Ping round trip",
		"peer_id", pong.UserID,
		"phase", "diagnostics",
		"rtt", rtt,
	)
	c.emit(domain.EventInfo, "diagnostics", pong.UserID, fmt.Sprintf("Round trip %s", rtt.Round(time.Millisecond)), "", "")
}

func (c *CallController) onRelayError(msg domain.Signal) {
	text := utils.TruncateString(utils.SanitizeString(msg.(domain.ErrorMessage).Message), maxRelayErrorLen)
	c.logger.Warnw("Relay reported an error", "phase", "transport", "message", text)
	c.emit(domain.EventWarn, "transport", "", text, "", "")
}

// onTransportState runs on session goroutines. Disconnected after the room
// was joined means the session gave up reconnecting.
func (c *CallController) onTransportState(state domain.ConnectionState) {
	c.observer.OnConnectionState(state)
	if state != domain.StateDisconnected {
		return
	}
	c.post(func() {
		c.mu.RLock()
		lost := c.active && c.joined
		room := c.room
		c.mu.RUnlock()
		if !lost {
			return
		}

		c.logger.Errorw("Signaling lost for good, ending call", "room_id", room, "phase", "transport")
		c.endCall()
		c.removeAll()
		c.observer.OnParticipants(nil)
		c.emit(domain.EventError, "transport", "", "Connection to the signaling server was lost", string(apperrors.ErrCodeTransportExhausted), domain.RemedyRetry)
	})
}

// restartFromMonitor is called from the health monitor goroutine.
func (c *CallController) restartFromMonitor(ctx context.Context, id domain.PeerID) error {
	return c.run(ctx, func() error {
		if !c.registry.Has(id) {
			return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, id)
		}
		// a restart supersedes an offer the peer never answered
		if err := c.negotiation.AbandonOffer(c.ctx(), id); err != nil {
			return err
		}
		c.offer(id, domain.OfferOptions{ICERestart: true, Reconnect: true})
		return nil
	})
}

func (c *CallController) onHealth(snapshot domain.HealthSnapshot) {
	c.observer.OnHealth(snapshot)
	for _, id := range snapshot.Exhausted {
		c.emit(domain.EventWarn, "health", id, "Connection could not be recovered", string(apperrors.ErrCodeNegotiationFailed), domain.RemedyDismiss)
	}
	if snapshot.Connectivity != nil && !snapshot.Connectivity.Reachable {
		c.emit(domain.EventError, "health", "", "Network unreachable: "+snapshot.Connectivity.Error, string(apperrors.ErrCodeTransportUnavailable), domain.RemedyRetry)
	}
}

func (c *CallController) participants() []domain.Participant {
	records := c.registry.All()
	out := make([]domain.Participant, 0, len(records))
	for id, rec := range records {
		out = append(out, domain.Participant{ID: id, DisplayName: rec.DisplayName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *CallController) negotiationFailed(id domain.PeerID, op string, err error) {
	c.logger.Warnw("Negotiation failed",
		"peer_id", id,
		"phase", "negotiation",
		"operation", op,
		"error", err,
	)
	c.emit(domain.EventWarn, "negotiation", id, err.Error(), string(apperrors.ErrCodeNegotiationFailed), "")
}

func (c *CallController) emitMediaError(err error) {
	category := domain.CategorizeMediaError(err)
	code := apperrors.ErrCodeInternal
	switch category {
	case domain.MediaErrorPermissionDenied:
		code = apperrors.ErrCodePermissionDenied
	case domain.MediaErrorNotFound:
		code = apperrors.ErrCodeDeviceNotFound
	case domain.MediaErrorInUse:
		code = apperrors.ErrCodeDeviceInUse
	}
	c.emit(domain.EventError, "media", "", err.Error(), string(code), category.Remedy())
}

func (c *CallController) emit(level domain.EventLevel, phase string, peerID domain.PeerID, message, code string, remedy domain.Remedy) {
	c.observer.OnEvent(domain.CallEvent{
		Time:    time.Now(),
		Level:   level,
		Phase:   phase,
		PeerID:  peerID,
		Message: message,
		Code:    code,
		Remedy:  remedy,
	})
}

func displayOr(name string, id domain.PeerID) string {
	if name != "" {
		return name
	}
	return string(id)
}

var _ ports.CallService = (*CallController)(nil)
