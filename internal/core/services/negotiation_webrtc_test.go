package services

import (
	"context"
	"testing"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/internal/infrastructure/repositories/memory"
	webrtcinfra "meshcall/internal/infrastructure/webrtc"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// pionSide is one participant negotiating with a single remote over real
// pion connections.
type pionSide struct {
	id       domain.PeerID
	remote   domain.PeerID
	svc      *NegotiationService
	registry ports.PeerRegistry
	logs     *observer.ObservedLogs
}

func newPionSide(t *testing.T, factory *webrtcinfra.PeerConnectionFactory, id, remote domain.PeerID) *pionSide {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core).Sugar()

	registry := memory.NewMemoryPeerRegistry(logger)
	rec, _ := registry.Upsert(remote, string(remote))
	conn, err := factory.NewConnection(context.Background(), ports.ConnectionSpec{PeerID: remote})
	require.NoError(t, err)
	require.True(t, rec.AttachConn(conn))
	t.Cleanup(func() { _ = rec.Close() })

	return &pionSide{
		id:       id,
		remote:   remote,
		svc:      NewNegotiationService(registry, func() domain.PeerID { return id }, monitoring.NewNopMetrics(), logger),
		registry: registry,
		logs:     logs,
	}
}

func (p *pionSide) state(t *testing.T) domain.NegotiationState {
	t.Helper()
	rec, ok := p.registry.Get(p.remote)
	require.True(t, ok)
	return rec.Negotiation()
}

// newPionPair returns a polite side "a" and an impolite side "b".
func newPionPair(t *testing.T) (*pionSide, *pionSide) {
	t.Helper()
	factory, err := webrtcinfra.NewPeerConnectionFactory(webrtcinfra.WebRTCConfig{}, monitoring.NewNopMetrics(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return newPionSide(t, factory, "a", "b"), newPionSide(t, factory, "b", "a")
}

// cycle runs one full offer/answer from offerer to answerer.
func cycle(t *testing.T, offerer, answerer *pionSide, opts domain.OfferOptions) {
	t.Helper()
	ctx := context.Background()
	offer, err := offerer.svc.CreateOffer(ctx, offerer.remote, opts)
	require.NoError(t, err)
	answer, err := answerer.svc.ApplyRemoteOffer(ctx, answerer.remote, offer, opts.ICERestart)
	require.NoError(t, err)
	require.NoError(t, offerer.svc.ApplyRemoteAnswer(ctx, offerer.remote, answer))
	assert.Equal(t, domain.NegotiationStable, offerer.state(t))
	assert.Equal(t, domain.NegotiationStable, answerer.state(t))
}

func TestNegotiationWebRTC_OfferAnswerAndRestart(t *testing.T) {
	a, b := newPionPair(t)

	cycle(t, a, b, domain.OfferOptions{})
	cycle(t, b, a, domain.OfferOptions{ICERestart: true})
	assert.Zero(t, a.logs.Len())
	assert.Zero(t, b.logs.Len())
}

func TestNegotiationWebRTC_GlareResolvesOnBothSides(t *testing.T) {
	ctx := context.Background()
	a, b := newPionPair(t)

	offerA, err := a.svc.CreateOffer(ctx, "b", domain.OfferOptions{})
	require.NoError(t, err)
	offerB, err := b.svc.CreateOffer(ctx, "a", domain.OfferOptions{})
	require.NoError(t, err)

	// b is impolite and keeps its own offer
	_, err = b.svc.ApplyRemoteOffer(ctx, "a", offerA, false)
	require.ErrorIs(t, err, domain.ErrGlareIgnored)
	assert.Equal(t, domain.NegotiationHaveLocalOffer, b.state(t))

	// a is polite, drops its offer and answers
	answer, err := a.svc.ApplyRemoteOffer(ctx, "b", offerB, false)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, domain.NegotiationStable, a.state(t))

	require.NoError(t, b.svc.ApplyRemoteAnswer(ctx, "a", answer))
	assert.Equal(t, domain.NegotiationStable, b.state(t))

	cycle(t, a, b, domain.OfferOptions{ICERestart: true})
}

func TestNegotiationWebRTC_AbandonOfferAllowsRestart(t *testing.T) {
	ctx := context.Background()
	a, b := newPionPair(t)
	cycle(t, a, b, domain.OfferOptions{})

	_, err := a.svc.CreateOffer(ctx, "b", domain.OfferOptions{ICERestart: true})
	require.NoError(t, err)
	require.NoError(t, a.svc.AbandonOffer(ctx, "b"))
	assert.Equal(t, domain.NegotiationStable, a.state(t))

	cycle(t, a, b, domain.OfferOptions{ICERestart: true, Reconnect: true})
}

func TestNegotiationWebRTC_RejectedAnswerRecovers(t *testing.T) {
	ctx := context.Background()
	a, b := newPionPair(t)

	_, err := a.svc.CreateOffer(ctx, "b", domain.OfferOptions{})
	require.NoError(t, err)
	err = a.svc.ApplyRemoteAnswer(ctx, "b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "nonsense"})
	require.Error(t, err)
	assert.Equal(t, domain.NegotiationStable, a.state(t))
	assert.Zero(t, a.logs.FilterMessage("Failed to roll back local offer").Len())

	cycle(t, a, b, domain.OfferOptions{})
}

func TestNegotiationWebRTC_EarlyCandidateWaitsForOffer(t *testing.T) {
	ctx := context.Background()
	a, b := newPionPair(t)

	queued, err := b.svc.AddICECandidate(ctx, "a", candidate(1))
	require.NoError(t, err)
	assert.True(t, queued)

	cycle(t, a, b, domain.OfferOptions{})

	rec, _ := b.registry.Get("a")
	assert.Zero(t, rec.PendingCandidates())
	assert.True(t, rec.RemoteDescriptionApplied())
	assert.Zero(t, b.logs.FilterMessage("Failed to apply queued candidate").Len())

	queued, err = b.svc.AddICECandidate(ctx, "a", candidate(2))
	require.NoError(t, err)
	assert.False(t, queued)
}
