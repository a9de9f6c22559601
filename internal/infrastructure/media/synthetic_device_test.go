package media

import (
	"context"
	"testing"
	"time"

	"meshcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDevice(opts SyntheticOptions) *SyntheticDevice {
	opts.PacketInterval = 5 * time.Millisecond
	return NewSyntheticDevice(opts, zap.NewNop().Sugar())
}

func TestSyntheticDevice_OpenAudioVideo(t *testing.T) {
	d := newDevice(SyntheticOptions{})

	stream, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true, Video: true, Profile: domain.ProfileDefault})
	require.NoError(t, err)
	defer stream.Stop()

	require.NotNil(t, stream.AudioTrack())
	require.NotNil(t, stream.VideoTrack())
	assert.Equal(t, domain.KindAudio, stream.AudioTrack().Kind())
	assert.Equal(t, domain.KindVideo, stream.VideoTrack().Kind())
	assert.Equal(t, "camera", stream.VideoTrack().Track().ID())
	assert.True(t, stream.VideoTrack().Enabled())

	video := stream.VideoTrack().(*syntheticTrack)
	assert.Eventually(t, func() bool { return video.PacketsSent() > 0 }, time.Second, 5*time.Millisecond)
}

func TestSyntheticDevice_AudioOnly(t *testing.T) {
	d := newDevice(SyntheticOptions{})

	stream, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true})
	require.NoError(t, err)
	defer stream.Stop()

	assert.NotNil(t, stream.AudioTrack())
	assert.Nil(t, stream.VideoTrack())
}

func TestSyntheticDevice_DisabledTrackStopsSending(t *testing.T) {
	d := newDevice(SyntheticOptions{})
	stream, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true})
	require.NoError(t, err)
	defer stream.Stop()

	audio := stream.AudioTrack().(*syntheticTrack)
	require.Eventually(t, func() bool { return audio.PacketsSent() > 0 }, time.Second, 5*time.Millisecond)

	audio.SetEnabled(false)
	assert.False(t, audio.Enabled())
	time.Sleep(20 * time.Millisecond)
	before := audio.PacketsSent()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, audio.PacketsSent())
}

func TestSyntheticDevice_MissingCamera(t *testing.T) {
	d := newDevice(SyntheticOptions{NoCamera: true})

	_, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true, Video: true})
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	stream, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true})
	require.NoError(t, err)
	stream.Stop()
}

func TestSyntheticDevice_InjectError(t *testing.T) {
	d := newDevice(SyntheticOptions{})
	d.InjectError(domain.ErrPermissionDenied)

	_, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	stream, err := d.Open(context.Background(), domain.CaptureConstraints{Audio: true})
	require.NoError(t, err)
	stream.Stop()
}

func TestSyntheticDevice_ScreenEnded(t *testing.T) {
	d := newDevice(SyntheticOptions{})

	screen, err := d.OpenScreen(context.Background(), domain.ProfileDefault)
	require.NoError(t, err)
	assert.Nil(t, screen.AudioTrack())
	assert.Equal(t, "screen", screen.VideoTrack().Track().ID())

	d.EndScreen()
	select {
	case <-screen.Ended():
	case <-time.After(time.Second):
		t.Fatal("screen stream did not end")
	}

	// stopping after the end is a no-op
	screen.Stop()
}

func TestSyntheticDevice_CancelledContext(t *testing.T) {
	d := newDevice(SyntheticOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Open(ctx, domain.CaptureConstraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticClassifier(t *testing.T) {
	c := StaticClassifier{Condition: domain.NetworkCondition{Mobile: true}}
	assert.True(t, c.Classify(context.Background()).Mobile)
}
