package collab

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// HandleMessage applies one message from the server to the mirror, drives
// the peer mesh and re-emits it as a typed event. It is meant to be the
// channel's Handler and must be called from one goroutine at a time.
func (m *Manager) HandleMessage(msg protocol.Message) {
	if msg.SessionID != "" && msg.SessionID != m.sid {
		log.Debug().Str("module", "collab").Str("session", string(msg.SessionID)).Str("type", string(msg.Type)).Msg("message for other session dropped")
		return
	}
	if msg.Type == protocol.TypeError {
		m.onError(msg)
		return
	}
	if msg.Type == protocol.TypeSessionUpdate && msg.Session != nil {
		m.onSessionState(*msg.Session)
		return
	}
	if msg.Type == protocol.TypeInvite {
		m.bus.Publish(events.InviteReceived, Invited{
			Session: msg.SessionID,
			Invitation: domain.Invitation{
				ParticipantID: msg.Target,
				Role:          msg.Role,
				InvitedBy:     msg.From,
				InvitedAt:     msg.Time(),
			},
		})
		return
	}
	if msg.Type == protocol.TypePong || msg.Type == protocol.TypePing {
		return
	}

	s := m.current()
	if s == nil {
		log.Debug().Str("module", "collab").Str("type", string(msg.Type)).Msg("message before join dropped")
		return
	}
	if err := m.route(s, msg); err != nil {
		if errors.Is(err, domain.ErrStaleUpdate) {
			return
		}
		log.Warn().Err(err).Str("module", "collab").Str("type", string(msg.Type)).Str("from", string(msg.From)).Msg("apply inbound")
	}
}

func (m *Manager) route(s core.SessionService, msg protocol.Message) error {
	from := msg.From
	switch msg.Type {
	case protocol.TypeParticipantJoined:
		return m.onJoined(s, *msg.Participant)

	case protocol.TypeParticipantLeft:
		if _, err := s.Leave(from); err != nil && !errors.Is(err, domain.ErrNotParticipant) {
			return err
		}
		if m.media != nil {
			m.media.RemovePeer(from)
		}
		m.bus.Publish(events.ParticipantLeft, Left{Participant: from, By: from})

	case protocol.TypeRemove:
		if msg.Target == m.self {
			m.mu.Lock()
			m.joining = false
			m.mu.Unlock()
			m.teardown(true)
			m.bus.Publish(events.ParticipantLeft, Left{Participant: m.self, By: from, Removed: true})
			return nil
		}
		if _, err := s.Remove(from, msg.Target); err != nil && !errors.Is(err, domain.ErrNotParticipant) {
			return err
		}
		if m.media != nil {
			m.media.RemovePeer(msg.Target)
		}
		m.bus.Publish(events.ParticipantLeft, Left{Participant: msg.Target, By: from, Removed: true})

	case protocol.TypeOffer:
		if m.media == nil {
			return nil
		}
		return m.media.HandleOffer(m.ctx, from, *msg.Offer)
	case protocol.TypeAnswer:
		if m.media == nil {
			return nil
		}
		return m.media.HandleAnswer(from, *msg.Answer)
	case protocol.TypeICECandidate:
		if m.media == nil {
			return nil
		}
		return m.media.HandleCandidate(from, *msg.Candidate)

	case protocol.TypeChatMessage:
		stored, err := s.AddChat(from, *msg.Chat)
		if err != nil {
			return err
		}
		m.bus.Publish(events.ChatMessageReceived, stored)

	case protocol.TypeMessageReaction:
		r := msg.Reaction
		add := r.Action == protocol.ReactionAdd
		updated, err := s.React(from, r.MessageID, r.Emoji, add)
		if err != nil {
			return err
		}
		m.bus.Publish(events.ChatReactionUpdated, ReactionUpdated{Message: updated, By: from, Emoji: r.Emoji, Added: add})

	case protocol.TypeContentShared:
		stored, err := s.ShareContent(from, *msg.Content)
		if err != nil {
			return err
		}
		m.bus.Publish(events.ContentShared, stored)

	case protocol.TypeContentRemoved:
		removed, err := s.RemoveContent(from, msg.ContentID)
		if err != nil {
			return err
		}
		m.bus.Publish(events.ContentRemoved, ContentRemoved{Content: removed, By: from})

	case protocol.TypeCursorUpdate:
		if err := s.UpdateCursor(from, *msg.Cursor, msg.Seq); err != nil {
			return err
		}
		m.bus.Publish(events.CursorMoved, CursorMoved{Participant: from, Location: *msg.Cursor})

	case protocol.TypePresenceUpdate:
		if err := s.UpdatePresence(from, msg.Presence, msg.Seq); err != nil {
			return err
		}
		if p, ok := s.Participant(from); ok {
			m.bus.Publish(events.ParticipantUpdated, p)
		}

	case protocol.TypeMediaState:
		if err := s.UpdateMedia(from, *msg.Media, msg.Seq); err != nil {
			return err
		}
		m.bus.Publish(events.MediaStateChanged, MediaChanged{Participant: from, Media: *msg.Media})

	case protocol.TypeUpdatePermissions:
		g, err := s.SetGrant(from, msg.Target, msg.Permissions, msg.ExpiresAt)
		if err != nil {
			return err
		}
		m.bus.Publish(events.PermissionsUpdated, PermissionsChanged{Target: msg.Target, Permissions: g.Capabilities, ExpiresAt: g.ExpiresAt, By: from})

	case protocol.TypeInsightRequest:
		m.bus.Publish(events.InsightRequested, InsightRequested{From: from, Request: *msg.InsightRequest})

	case protocol.TypeInsight:
		stored, err := s.AddInsight(from, *msg.Insight)
		if err != nil {
			return err
		}
		m.bus.Publish(events.InsightReceived, stored)

	case protocol.TypeStartRecording:
		if err := s.StartRecording(from); err != nil {
			return err
		}
		m.bus.Publish(events.SessionUpdated, s.Snapshot())

	case protocol.TypeSessionUpdate:
		if msg.Status == "" {
			return nil
		}
		if msg.Status == domain.SessionEnded {
			m.finish(from)
			return nil
		}
		if err := s.SetStatus(from, msg.Status); err != nil {
			return err
		}
		m.bus.Publish(events.SessionUpdated, s.Snapshot())

	case protocol.TypeEndSession:
		if err := s.End(from); err != nil && !errors.Is(err, domain.ErrSessionEnded) {
			log.Debug().Err(err).Str("module", "collab").Msg("mirror end")
		}
		m.finish(from)

	default:
		log.Debug().Str("module", "collab").Str("type", string(msg.Type)).Msg("unhandled message")
	}
	return nil
}

// onSessionState installs the server's snapshot as the mirror. It answers
// a join, so a pending Join call returns.
func (m *Manager) onSessionState(rec domain.Session) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	if m.mirror == nil {
		m.mirror = core.NewSessionService(rec, core.SessionOptions{Mirror: true, Now: m.now, Checker: m.checker})
	} else {
		m.mirror.Replace(rec)
	}
	m.mu.Unlock()

	log.Info().Str("module", "collab").Str("session", string(rec.ID)).Int("participants", len(rec.Participants)).Msg("session state")
	m.resolveJoin(nil)
	m.bus.Publish(events.SessionUpdated, rec)
	if rec.State.Status == domain.SessionEnded {
		m.finish(rec.OwnerID)
	}
}

// onJoined records a newcomer and opens a link to them. Existing members
// make the offer; the newcomer only answers.
func (m *Manager) onJoined(s core.SessionService, p domain.Participant) error {
	if p.ID == m.self {
		return nil
	}
	if _, err := s.Join(p); err != nil {
		return err
	}
	m.bus.Publish(events.ParticipantJoined, p)
	if m.media == nil {
		return nil
	}
	return m.media.AddPeer(m.ctx, p.ID)
}

func (m *Manager) onError(msg protocol.Message) {
	err := msg.Error
	log.Warn().Str("module", "collab").Str("code", string(err.Code)).Str("request", string(err.Request)).Msg(err.Message)
	if err.Request == protocol.TypeJoinSession {
		m.mu.Lock()
		m.joining = false
		m.mu.Unlock()
		m.resolveJoin(err)
	}
	m.bus.Publish(events.ErrorReceived, error(err))
}
