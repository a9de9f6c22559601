package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	localStreamID  = "meshcall-local"
	defaultMTU     = 1200
	opusClockRate  = 48000
	videoClockRate = 90000
)

// Opus TOC byte for a 20ms silent frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type SyntheticOptions struct {
	PacketInterval time.Duration
	NoCamera       bool
	NoMicrophone   bool
}

// SyntheticDevice generates RTP media for headless runs. It stands in for a
// camera, a microphone and a screen source.
type SyntheticDevice struct {
	opts   SyntheticOptions
	logger *zap.SugaredLogger

	mu       sync.Mutex
	injected []error
	screen   *syntheticStream
}

func NewSyntheticDevice(opts SyntheticOptions, logger *zap.SugaredLogger) *SyntheticDevice {
	if opts.PacketInterval <= 0 {
		opts.PacketInterval = 20 * time.Millisecond
	}
	return &SyntheticDevice{opts: opts, logger: logger}
}

// InjectError makes the next Open or OpenScreen call fail with err.
func (d *SyntheticDevice) InjectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injected = append(d.injected, err)
}

func (d *SyntheticDevice) takeInjected() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.injected) == 0 {
		return nil
	}
	err := d.injected[0]
	d.injected = d.injected[1:]
	return err
}

func (d *SyntheticDevice) Open(ctx context.Context, c domain.CaptureConstraints) (ports.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.takeInjected(); err != nil {
		return nil, err
	}
	if c.Video && d.opts.NoCamera {
		return nil, fmt.Errorf("camera: %w", domain.ErrDeviceNotFound)
	}
	if c.Audio && d.opts.NoMicrophone {
		return nil, fmt.Errorf("microphone: %w", domain.ErrDeviceNotFound)
	}

	s := newSyntheticStream()
	if c.Audio {
		t, err := newAudioTrack()
		if err != nil {
			return nil, err
		}
		s.audio = t
	}
	if c.Video {
		t, err := newVideoTrack("camera", c.Profile)
		if err != nil {
			return nil, err
		}
		s.video = t
	}
	s.start(d.opts.PacketInterval)

	d.logger.Infow("synthetic capture opened",
		"audio", c.Audio,
		"video", c.Video,
		"profile", c.Profile.Name,
	)
	return s, nil
}

func (d *SyntheticDevice) OpenScreen(ctx context.Context, profile domain.QualityProfile) (ports.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.takeInjected(); err != nil {
		return nil, err
	}

	t, err := newVideoTrack("screen", profile)
	if err != nil {
		return nil, err
	}
	s := newSyntheticStream()
	s.video = t
	s.start(d.opts.PacketInterval)

	d.mu.Lock()
	d.screen = s
	d.mu.Unlock()

	d.logger.Infow("synthetic screen capture opened", "profile", profile.Name)
	return s, nil
}

// EndScreen simulates the user stopping a screen share from outside the call.
func (d *SyntheticDevice) EndScreen() {
	d.mu.Lock()
	s := d.screen
	d.screen = nil
	d.mu.Unlock()
	if s != nil {
		s.end()
	}
}

type syntheticStream struct {
	audio *syntheticTrack
	video *syntheticTrack

	ended   chan struct{}
	endOnce sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newSyntheticStream() *syntheticStream {
	return &syntheticStream{ended: make(chan struct{})}
}

func (s *syntheticStream) start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, t := range []*syntheticTrack{s.audio, s.video} {
		if t == nil {
			continue
		}
		s.wg.Add(1)
		go func(t *syntheticTrack) {
			defer s.wg.Done()
			t.run(ctx, interval)
		}(t)
	}
}

func (s *syntheticStream) AudioTrack() ports.LocalTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *syntheticStream) VideoTrack() ports.LocalTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *syntheticStream) Ended() <-chan struct{} { return s.ended }

// end stops generation and closes Ended.
func (s *syntheticStream) end() {
	s.endOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.ended)
	})
}

// Stop releases the stream. Stop does not count as ending on its own, but
// Ended is closed so watchers exit.
func (s *syntheticStream) Stop() { s.end() }

type syntheticTrack struct {
	kind       domain.MediaKind
	track      *webrtc.TrackLocalStaticRTP
	packetizer rtp.Packetizer
	frame      []byte
	samples    uint32
	clockRate  uint32

	enabled atomic.Bool
	sent    atomic.Int64
}

func newAudioTrack() (*syntheticTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		localStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	t := &syntheticTrack{
		kind:       domain.KindAudio,
		track:      track,
		packetizer: rtp.NewPacketizer(defaultMTU, 111, rand.Uint32(), &codecs.OpusPayloader{}, rtp.NewRandomSequencer(), opusClockRate),
		frame:      opusSilence,
		clockRate:  opusClockRate,
	}
	t.enabled.Store(true)
	return t, nil
}

func newVideoTrack(id string, profile domain.QualityProfile) (*syntheticTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		id,
		localStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", id, err)
	}
	fps := profile.FrameRate
	if fps <= 0 {
		fps = 30
	}
	// bytes per frame at the target bitrate
	size := profile.MaxBitrate * 1000 / 8 / fps
	if size <= 0 {
		size = 64
	}
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = byte(i)
	}
	t := &syntheticTrack{
		kind:       domain.KindVideo,
		track:      track,
		packetizer: rtp.NewPacketizer(defaultMTU, 96, rand.Uint32(), &codecs.VP8Payloader{}, rtp.NewRandomSequencer(), videoClockRate),
		frame:      frame,
		samples:    uint32(videoClockRate / fps),
		clockRate:  videoClockRate,
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *syntheticTrack) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	samples := t.samples
	if samples == 0 {
		samples = uint32(interval.Seconds() * float64(t.clockRate))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			for _, p := range t.packetizer.Packetize(t.frame, samples) {
				// write errors come from individual bindings and are transient
				_ = t.track.WriteRTP(p)
				t.sent.Add(1)
			}
		}
	}
}

func (t *syntheticTrack) Kind() domain.MediaKind   { return t.kind }
func (t *syntheticTrack) Track() webrtc.TrackLocal { return t.track }
func (t *syntheticTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *syntheticTrack) Enabled() bool            { return t.enabled.Load() }
func (t *syntheticTrack) PacketsSent() int64       { return t.sent.Load() }
