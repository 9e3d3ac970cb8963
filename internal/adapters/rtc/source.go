package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// StaticSource hands out sample tracks the caller writes media into. It
// stands in for platform capture devices in headless clients.
type StaticSource struct {
	StreamID string
	// Unavailable kinds fail acquisition, like a denied camera prompt.
	Unavailable map[core.MediaKind]bool

	mu     sync.Mutex
	tracks map[core.MediaKind]*webrtc.TrackLocalStaticSample
}

var _ core.MediaSource = (*StaticSource)(nil)

func NewStaticSource(streamID string) *StaticSource {
	return &StaticSource{StreamID: streamID, tracks: make(map[core.MediaKind]*webrtc.TrackLocalStaticSample)}
}

func (s *StaticSource) Acquire(ctx context.Context, kind core.MediaKind) (webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %v", kind, domain.ErrMediaAcquisitionFailed, err)
	}
	var mime string
	switch kind {
	case core.KindAudio:
		mime = webrtc.MimeTypeOpus
	case core.KindVideo, core.KindScreen:
		mime = webrtc.MimeTypeVP8
	default:
		return nil, fmt.Errorf("acquire %q: %w", kind, domain.ErrMediaAcquisitionFailed)
	}
	if s.Unavailable[kind] {
		return nil, fmt.Errorf("acquire %s: %w: device unavailable", kind, domain.ErrMediaAcquisitionFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracks[kind]; ok {
		return t, nil
	}
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), s.StreamID)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %v", kind, domain.ErrMediaAcquisitionFailed, err)
	}
	s.tracks[kind] = t
	return t, nil
}

func (s *StaticSource) Release(kind core.MediaKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracks, kind)
}

// Track returns the live track for kind, for writing samples.
func (s *StaticSource) Track(kind core.MediaKind) (*webrtc.TrackLocalStaticSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[kind]
	return t, ok
}
