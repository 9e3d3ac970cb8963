package collab

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
	"github.com/dkeye/Huddle/internal/protocol"
)

// The video slot carries the camera or, while sharing, the screen. Both
// switch with a sender swap on every link.

func (m *Manager) EnableAudio(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if m.localMedia().Audio {
		return nil
	}
	if err := s.Authorize(m.self, permission.ActionPublishMedia); err != nil {
		return err
	}
	track, err := m.acquire(ctx, core.KindAudio)
	if err != nil {
		return err
	}
	if err := m.publish(ctx, core.SlotAudio, track); err != nil {
		return m.fail(err)
	}
	return m.setMedia(s, func(st *domain.MediaState) { st.Audio = true })
}

func (m *Manager) DisableAudio(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if !m.localMedia().Audio {
		return nil
	}
	if m.media != nil {
		if err := m.media.UnpublishTrack(ctx, core.SlotAudio); err != nil {
			return m.fail(err)
		}
	}
	m.release(core.KindAudio)
	return m.setMedia(s, func(st *domain.MediaState) { st.Audio = false })
}

func (m *Manager) EnableVideo(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	state := m.localMedia()
	if state.Video {
		return nil
	}
	if err := s.Authorize(m.self, permission.ActionPublishMedia); err != nil {
		return err
	}
	track, err := m.acquire(ctx, core.KindVideo)
	if err != nil {
		return err
	}
	if !state.Screen {
		if err := m.publish(ctx, core.SlotVideo, track); err != nil {
			return m.fail(err)
		}
	}
	return m.setMedia(s, func(st *domain.MediaState) { st.Video = true })
}

func (m *Manager) DisableVideo(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	state := m.localMedia()
	if !state.Video {
		return nil
	}
	if !state.Screen && m.media != nil {
		if err := m.media.UnpublishTrack(ctx, core.SlotVideo); err != nil {
			return m.fail(err)
		}
	}
	m.release(core.KindVideo)
	return m.setMedia(s, func(st *domain.MediaState) { st.Video = false })
}

// ShareScreen puts the screen on the video slot in place of the camera.
func (m *Manager) ShareScreen(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if m.localMedia().Screen {
		return nil
	}
	if err := s.Authorize(m.self, permission.ActionShareScreen); err != nil {
		return err
	}
	track, err := m.acquire(ctx, core.KindScreen)
	if err != nil {
		return err
	}
	if m.media != nil {
		if err := m.media.ReplaceTrack(ctx, core.SlotVideo, track); err != nil {
			return m.fail(err)
		}
	}
	return m.setMedia(s, func(st *domain.MediaState) { st.Screen = true })
}

// StopScreenShare restores the camera, if it is on, or clears the slot.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	state := m.localMedia()
	if !state.Screen {
		return nil
	}
	var camera webrtc.TrackLocal
	if state.Video {
		if camera, err = m.acquire(ctx, core.KindVideo); err != nil {
			return err
		}
	}
	if m.media != nil {
		if err := m.media.ReplaceTrack(ctx, core.SlotVideo, camera); err != nil {
			return m.fail(err)
		}
	}
	m.release(core.KindScreen)
	return m.setMedia(s, func(st *domain.MediaState) { st.Screen = false })
}

func (m *Manager) localMedia() domain.MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *Manager) acquire(ctx context.Context, kind core.MediaKind) (webrtc.TrackLocal, error) {
	if m.source == nil {
		return nil, m.fail(fmt.Errorf("no %s source: %w", kind, domain.ErrMediaAcquisitionFailed))
	}
	track, err := m.source.Acquire(ctx, kind)
	if err != nil {
		return nil, m.fail(err)
	}
	return track, nil
}

func (m *Manager) release(kind core.MediaKind) {
	if m.source != nil {
		m.source.Release(kind)
	}
}

func (m *Manager) publish(ctx context.Context, slot core.TrackSlot, track webrtc.TrackLocal) error {
	if m.media == nil {
		return nil
	}
	return m.media.PublishTrack(ctx, slot, track)
}

// setMedia applies change to the local media flags, records them in the
// mirror and announces them.
func (m *Manager) setMedia(s core.SessionService, change func(*domain.MediaState)) error {
	m.mu.Lock()
	change(&m.local)
	state := m.local
	m.mu.Unlock()

	seq := m.nextSeq()
	if err := s.UpdateMedia(m.self, state, seq); err != nil {
		return err
	}
	msg := protocol.New(protocol.TypeMediaState, m.sid)
	msg.Media = &state
	msg.Seq = seq
	_ = m.send(msg)
	m.bus.Publish(events.MediaStateChanged, MediaChanged{Participant: m.self, Media: state})
	return nil
}
