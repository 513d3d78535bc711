package webrtc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrMediaStopped = errors.New("media source stopped")

// MediaSource provides the local tracks of a call.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// StaticMediaSource exposes a VP8 video and an Opus audio track that the host
// feeds with encoded samples.
type StaticMediaSource struct {
	video   *webrtc.TrackLocalStaticSample
	audio   *webrtc.TrackLocalStaticSample
	stopped atomic.Bool
}

func NewStaticMediaSource(streamID string) (*StaticMediaSource, error) {
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	return &StaticMediaSource{video: video, audio: audio}, nil
}

func (s *StaticMediaSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.video, s.audio}
}

// WriteVideo and WriteAudio push one encoded sample; they fail once the
// source is stopped.
func (s *StaticMediaSource) WriteVideo(sample media.Sample) error {
	if s.stopped.Load() {
		return ErrMediaStopped
	}
	return s.video.WriteSample(sample)
}

func (s *StaticMediaSource) WriteAudio(sample media.Sample) error {
	if s.stopped.Load() {
		return ErrMediaStopped
	}
	return s.audio.WriteSample(sample)
}

func (s *StaticMediaSource) Stop() {
	s.stopped.Store(true)
}

func (s *StaticMediaSource) Stopped() bool {
	return s.stopped.Load()
}
