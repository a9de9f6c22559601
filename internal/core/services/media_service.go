package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MediaService owns the local capture stream and the optional screen stream.
type MediaService struct {
	device     ports.CaptureDevice
	classifier ports.NetworkClassifier
	metrics    ports.CallMetrics
	logger     *zap.SugaredLogger

	mu      sync.RWMutex
	local   ports.CaptureStream
	screen  ports.CaptureStream
	profile domain.QualityProfile
}

func NewMediaService(
	device ports.CaptureDevice,
	classifier ports.NetworkClassifier,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *MediaService {
	return &MediaService{
		device:     device,
		classifier: classifier,
		metrics:    metrics,
		logger:     logger,
		profile:    domain.ProfileDefault,
	}
}

// AcquireLocalStream opens capture with a profile picked from the network
// condition. A missing camera falls back to audio only, once.
func (s *MediaService) AcquireLocalStream(ctx context.Context, wantAudio, wantVideo bool) error {
	profile := domain.SelectProfile(s.classifier.Classify(ctx))
	constraints := domain.CaptureConstraints{Audio: wantAudio, Video: wantVideo, Profile: profile}

	stream, err := s.device.Open(ctx, constraints)
	if err != nil && wantVideo && errors.Is(err, domain.ErrDeviceNotFound) {
		s.logger.Warnw("Camera not found, retrying audio only",
			"phase", "media",
			"error", err,
		)
		s.metrics.IncMediaError(domain.MediaErrorNotFound)
		constraints.Video = false
		constraints.Audio = true
		stream, err = s.device.Open(ctx, constraints)
	}
	if err != nil {
		category := domain.CategorizeMediaError(err)
		s.metrics.IncMediaError(category)
		s.logger.Errorw("Failed to acquire local stream",
			"phase", "media",
			"category", category,
			"error", err,
		)
		return fmt.Errorf("acquire local stream: %w", err)
	}

	s.mu.Lock()
	prev := s.local
	s.local = stream
	s.profile = profile
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	s.logger.Infow("Local stream acquired",
		"phase", "media",
		"audio", stream.AudioTrack() != nil,
		"video", stream.VideoTrack() != nil,
		"profile", profile.Name,
	)
	return nil
}

func (s *MediaService) toggle(pick func(ports.CaptureStream) ports.LocalTrack, kind domain.MediaKind) (bool, error) {
	s.mu.RLock()
	local := s.local
	s.mu.RUnlock()

	if local == nil {
		return false, domain.ErrNoLocalStream
	}
	track := pick(local)
	if track == nil {
		return false, fmt.Errorf("%w: no %s track", domain.ErrNoLocalStream, kind)
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)

	s.logger.Infow("Track toggled",
		"phase", "media",
		"kind", kind,
		"enabled", enabled,
	)
	return enabled, nil
}

// ToggleVideo flips the camera track's enabled flag without recapturing.
func (s *MediaService) ToggleVideo() (bool, error) {
	return s.toggle(ports.CaptureStream.VideoTrack, domain.KindVideo)
}

func (s *MediaService) ToggleAudio() (bool, error) {
	return s.toggle(ports.CaptureStream.AudioTrack, domain.KindAudio)
}

// StartScreenShare opens screen capture and returns the track to send.
// onEnded runs if capture ends on its own rather than through StopScreenShare.
func (s *MediaService) StartScreenShare(ctx context.Context, onEnded func()) (webrtc.TrackLocal, error) {
	s.mu.RLock()
	active := s.screen != nil
	profile := s.profile
	s.mu.RUnlock()
	if active {
		return nil, domain.ErrScreenShareActive
	}

	screen, err := s.device.OpenScreen(ctx, profile)
	if err != nil {
		s.metrics.IncMediaError(domain.CategorizeMediaError(err))
		return nil, fmt.Errorf("open screen capture: %w", err)
	}
	if screen.VideoTrack() == nil {
		screen.Stop()
		return nil, fmt.Errorf("%w: screen capture has no video", domain.ErrDeviceNotFound)
	}

	s.mu.Lock()
	if s.screen != nil {
		s.mu.Unlock()
		screen.Stop()
		return nil, domain.ErrScreenShareActive
	}
	s.screen = screen
	s.mu.Unlock()

	go func() {
		<-screen.Ended()
		s.mu.RLock()
		current := s.screen == screen
		s.mu.RUnlock()
		if current && onEnded != nil {
			s.logger.Infow("Screen capture ended", "phase", "media")
			onEnded()
		}
	}()

	s.logger.Infow("Screen share started", "phase", "media")
	return screen.VideoTrack().Track(), nil
}

// StopScreenShare releases the screen stream and returns the camera track,
// which is nil when no camera is captured.
func (s *MediaService) StopScreenShare() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	screen := s.screen
	s.screen = nil
	s.mu.Unlock()

	if screen == nil {
		return nil, domain.ErrScreenShareInactive
	}
	screen.Stop()

	s.logger.Infow("Screen share stopped", "phase", "media")
	return s.cameraTrack(), nil
}

func (s *MediaService) cameraTrack() webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil || s.local.VideoTrack() == nil {
		return nil
	}
	return s.local.VideoTrack().Track()
}

// OutgoingVideoTrack is the track every peer should currently send.
func (s *MediaService) OutgoingVideoTrack() webrtc.TrackLocal {
	s.mu.RLock()
	screen := s.screen
	s.mu.RUnlock()
	if screen != nil {
		return screen.VideoTrack().Track()
	}
	return s.cameraTrack()
}

func (s *MediaService) AudioTrack() webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil || s.local.AudioTrack() == nil {
		return nil
	}
	return s.local.AudioTrack().Track()
}

func (s *MediaService) VideoSource() domain.VideoSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.screen != nil {
		return domain.SourceScreen
	}
	return domain.SourceCamera
}

func (s *MediaService) HasLocalStream() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local != nil
}

func (s *MediaService) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local != nil && s.local.VideoTrack() != nil && s.local.VideoTrack().Enabled()
}

func (s *MediaService) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local != nil && s.local.AudioTrack() != nil && s.local.AudioTrack().Enabled()
}

// Release stops every capture stream.
func (s *MediaService) Release() {
	s.mu.Lock()
	local, screen := s.local, s.screen
	s.local, s.screen = nil, nil
	s.mu.Unlock()

	if screen != nil {
		screen.Stop()
	}
	if local != nil {
		local.Stop()
	}
}
