package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeCounter struct {
	Connection
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestPeerRecord_QueueFlushesOnceInOrder(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")

	assert.True(t, rec.QueueCandidate(cand("c1")))
	assert.True(t, rec.QueueCandidate(cand("c2")))
	assert.True(t, rec.QueueCandidate(cand("c3")))
	assert.Equal(t, 3, rec.PendingCandidates())

	flushed := rec.MarkRemoteApplied()
	require.Len(t, flushed, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{flushed[0].Candidate, flushed[1].Candidate, flushed[2].Candidate})
	assert.Zero(t, rec.PendingCandidates())
	assert.True(t, rec.RemoteDescriptionApplied())

	assert.Nil(t, rec.MarkRemoteApplied())
	assert.False(t, rec.QueueCandidate(cand("c4")))
}

func TestPeerRecord_ResetRemoteAppliedReopensQueue(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	rec.QueueCandidate(cand("c1"))
	rec.ResetRemoteApplied()
	assert.Equal(t, 1, rec.PendingCandidates())

	require.Len(t, rec.MarkRemoteApplied(), 1)
	rec.ResetRemoteApplied()
	assert.False(t, rec.RemoteDescriptionApplied())

	assert.True(t, rec.QueueCandidate(cand("c2")))
	flushed := rec.MarkRemoteApplied()
	require.Len(t, flushed, 1)
	assert.Equal(t, "c2", flushed[0].Candidate)
}

func TestPeerRecord_CloseDropsQueueAndIsIdempotent(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	conn := &closeCounter{}
	require.True(t, rec.AttachConn(conn))
	rec.QueueCandidate(cand("c1"))

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.Equal(t, 1, conn.closed)
	assert.True(t, rec.Closed())
	assert.Zero(t, rec.PendingCandidates())
	assert.Equal(t, ICEClosed, rec.ICEState())
	assert.False(t, rec.QueueCandidate(cand("late")))
}

func TestPeerRecord_AttachAfterCloseReleasesConn(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	require.NoError(t, rec.Close())

	conn := &closeCounter{}
	assert.False(t, rec.AttachConn(conn))
	assert.Equal(t, 1, conn.closed)
	assert.Nil(t, rec.Conn())
}

func TestPeerRecord_ICEStateTracksChanges(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	before := rec.LastStateChange()

	prev := rec.SetICEState(ICEChecking)
	assert.Equal(t, ICENew, prev)
	assert.False(t, rec.LastStateChange().Before(before))

	assert.True(t, ICEFailed.Failing())
	assert.True(t, ICEDisconnected.Failing())
	assert.False(t, ICEChecking.Failing())
}

func TestPeerRecord_ReconnectAttempts(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	assert.Equal(t, 1, rec.IncrementReconnectAttempts())
	assert.Equal(t, 2, rec.IncrementReconnectAttempts())
	rec.ResetReconnectAttempts()
	assert.Zero(t, rec.ReconnectAttempts())
}

func TestPeerRecord_View(t *testing.T) {
	rec := NewPeerRecord("p1", "Bob", "gen-1")
	rec.SetDisplayName("")
	rec.SetNegotiation(NegotiationHaveLocalOffer)
	rec.SetVideoSource(SourceScreen)

	v := rec.View()
	assert.Equal(t, PeerID("p1"), v.ID)
	assert.Equal(t, "Bob", v.DisplayName)
	assert.Equal(t, NegotiationHaveLocalOffer, v.Negotiation)
	assert.Equal(t, SourceScreen, v.VideoSource)
}

func TestIsPolite(t *testing.T) {
	assert.True(t, IsPolite("a", "b"))
	assert.False(t, IsPolite("b", "a"))
}

func TestSelectProfile(t *testing.T) {
	assert.Equal(t, ProfileDefault, SelectProfile(NetworkCondition{}))
	assert.Equal(t, ProfileMobile, SelectProfile(NetworkCondition{Mobile: true}))
	assert.Equal(t, ProfileLowBandwidth, SelectProfile(NetworkCondition{Mobile: true, LowBandwidth: true}))
	assert.Equal(t, 320, ProfileLowBandwidth.Width)
	assert.Equal(t, 24, ProfileMobile.FrameRate)
	assert.Equal(t, 720, ProfileDefault.Height)
}

func TestCategorizeMediaError(t *testing.T) {
	cases := []struct {
		err      error
		category MediaErrorCategory
		remedy   Remedy
	}{
		{fmt.Errorf("open: %w", ErrPermissionDenied), MediaErrorPermissionDenied, RemedyRetry},
		{ErrDeviceNotFound, MediaErrorNotFound, RemedyAudioOnly},
		{ErrDeviceInUse, MediaErrorInUse, RemedyDismiss},
		{errors.New("weird"), MediaErrorUnknown, RemedyDismiss},
	}
	for _, tc := range cases {
		cat := CategorizeMediaError(tc.err)
		assert.Equal(t, tc.category, cat)
		assert.Equal(t, tc.remedy, cat.Remedy())
	}
}

func TestMessageKind_Valid(t *testing.T) {
	for _, k := range AllMessageKinds {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, MessageKind("chat").Valid())
}
