package collab

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
	"github.com/dkeye/Huddle/internal/protocol"
)

// ChatOption adjusts an outgoing chat message.
type ChatOption func(*domain.ChatMessage)

func WithMentions(ids ...domain.ParticipantID) ChatOption {
	return func(m *domain.ChatMessage) { m.Mentions = append(m.Mentions, ids...) }
}

func WithAttachments(a ...domain.Attachment) ChatOption {
	return func(m *domain.ChatMessage) {
		m.Attachments = append(m.Attachments, a...)
		m.Type = domain.MessageFile
	}
}

func (m *Manager) SendChatMessage(content string, opts ...ChatOption) (domain.ChatMessage, error) {
	s, err := m.joined()
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := s.Authorize(m.self, permission.ActionSendChat); err != nil {
		return domain.ChatMessage{}, err
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		SenderID:  m.self,
		Content:   content,
		Type:      domain.MessageText,
		Timestamp: m.now(),
	}
	for _, opt := range opts {
		opt(&msg)
	}
	stored, err := s.AddChat(m.self, msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	out := protocol.New(protocol.TypeChatMessage, m.sid)
	wire := stored.Clone()
	out.Chat = &wire
	_ = m.send(out)
	m.bus.Publish(events.ChatMessageReceived, stored)
	return stored, nil
}

// React adds the caller's emoji to a message. Reacting twice is a no-op.
func (m *Manager) React(messageID, emoji string) error {
	return m.react(messageID, emoji, true)
}

// Unreact removes the caller's emoji from a message.
func (m *Manager) Unreact(messageID, emoji string) error {
	return m.react(messageID, emoji, false)
}

func (m *Manager) react(messageID, emoji string, add bool) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionReact); err != nil {
		return err
	}
	msg, err := s.React(m.self, messageID, emoji, add)
	if err != nil {
		return err
	}
	action := protocol.ReactionRemove
	if add {
		action = protocol.ReactionAdd
	}
	out := protocol.New(protocol.TypeMessageReaction, m.sid)
	out.Reaction = &protocol.Reaction{MessageID: messageID, Emoji: emoji, Action: action}
	_ = m.send(out)
	m.bus.Publish(events.ChatReactionUpdated, ReactionUpdated{Message: msg, By: m.self, Emoji: emoji, Added: add})
	return nil
}

// ShareContent records a reference to an item held by the document
// manager. The caller becomes its owner.
func (m *Manager) ShareContent(c domain.SharedContent) (domain.SharedContent, error) {
	s, err := m.joined()
	if err != nil {
		return domain.SharedContent{}, err
	}
	if err := s.Authorize(m.self, permission.ActionShareContent); err != nil {
		return domain.SharedContent{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.OwnerID = m.self
	c.SharedAt = m.now()
	stored, err := s.ShareContent(m.self, c)
	if err != nil {
		return domain.SharedContent{}, err
	}
	out := protocol.New(protocol.TypeContentShared, m.sid)
	wire := stored.Clone()
	out.Content = &wire
	_ = m.send(out)
	m.bus.Publish(events.ContentShared, stored)
	return stored, nil
}

// RemoveContent tombstones a shared item. The item's owner and editors with
// delete rights on it pass; everyone else needs canDelete on the session.
func (m *Manager) RemoveContent(contentID string) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	i := snap.FindContent(contentID)
	if i < 0 {
		return fmt.Errorf("content %s: %w", contentID, domain.ErrNotFound)
	}
	me, ok := snap.Participants[m.self]
	if !ok {
		return domain.ErrNotParticipant
	}
	if !m.checker.Check(me.Subject(), permission.ActionDeleteContent, snap.State.SharedContent[i].Target()).Allowed {
		if err := s.Authorize(m.self, permission.ActionDeleteContent); err != nil {
			return err
		}
	}
	removed, err := s.RemoveContent(m.self, contentID)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeContentRemoved, m.sid)
	out.ContentID = contentID
	_ = m.send(out)
	m.bus.Publish(events.ContentRemoved, ContentRemoved{Content: removed, By: m.self})
	return nil
}

func (m *Manager) UpdateCursor(loc domain.Location) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionUpdateCursor); err != nil {
		return err
	}
	seq := m.nextSeq()
	if err := s.UpdateCursor(m.self, loc, seq); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeCursorUpdate, m.sid)
	out.Cursor = &loc
	out.Seq = seq
	_ = m.send(out)
	m.bus.Publish(events.CursorMoved, CursorMoved{Participant: m.self, Location: loc})
	return nil
}

func (m *Manager) SetPresence(status domain.Status) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionSetPresence); err != nil {
		return err
	}
	seq := m.nextSeq()
	if err := s.UpdatePresence(m.self, status, seq); err != nil {
		return err
	}
	out := protocol.New(protocol.TypePresenceUpdate, m.sid)
	out.Presence = status
	out.Seq = seq
	_ = m.send(out)
	if p, ok := s.Participant(m.self); ok {
		m.bus.Publish(events.ParticipantUpdated, p)
	}
	return nil
}

func (m *Manager) InviteParticipant(target domain.ParticipantID, role domain.Role) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionInvite); err != nil {
		return err
	}
	inv, err := s.Invite(m.self, target, role)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeInvite, m.sid)
	out.Target = inv.ParticipantID
	out.Role = inv.Role
	_ = m.send(out)
	m.bus.Publish(events.SessionUpdated, s.Snapshot())
	return nil
}

// RemoveParticipant expels target from the session and drops the link to
// them.
func (m *Manager) RemoveParticipant(target domain.ParticipantID) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionRemove); err != nil {
		return err
	}
	if snap := s.Snapshot(); target == snap.OwnerID {
		return &permission.DeniedError{Action: permission.ActionRemove, Capability: permission.CanModerate, Reason: "owner cannot be removed"}
	}
	if _, err := s.Remove(m.self, target); err != nil {
		return err
	}
	if m.media != nil {
		m.media.RemovePeer(target)
	}
	out := protocol.New(protocol.TypeRemove, m.sid)
	out.Target = target
	_ = m.send(out)
	m.bus.Publish(events.ParticipantLeft, Left{Participant: target, By: m.self, Removed: true})
	return nil
}

// ChangePermissions replaces target's user-level grant. A nil expiresAt
// makes the grant permanent.
func (m *Manager) ChangePermissions(target domain.ParticipantID, caps permission.Set, expiresAt *time.Time) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionChangePermission); err != nil {
		return err
	}
	g, err := s.SetGrant(m.self, target, caps, expiresAt)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeUpdatePermissions, m.sid)
	out.Target = target
	out.Permissions = g.Capabilities.Clone()
	out.ExpiresAt = g.ExpiresAt
	_ = m.send(out)
	m.bus.Publish(events.PermissionsUpdated, PermissionsChanged{Target: target, Permissions: g.Capabilities, ExpiresAt: g.ExpiresAt, By: m.self})
	return nil
}

// RequestInsight forwards text to the analysis engines. Results arrive
// later as ai:insight_received.
func (m *Manager) RequestInsight(req domain.InsightRequest) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionRequestInsight); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeInsightRequest, m.sid)
	out.InsightRequest = &req
	_ = m.send(out)
	m.bus.Publish(events.InsightRequested, InsightRequested{From: m.self, Request: req})
	return nil
}

// PublishInsight is used by assistant participants that bridge an analysis
// engine into the session.
func (m *Manager) PublishInsight(ins domain.Insight) (domain.Insight, error) {
	s, err := m.joined()
	if err != nil {
		return domain.Insight{}, err
	}
	if err := s.Authorize(m.self, permission.ActionPublishInsight); err != nil {
		return domain.Insight{}, err
	}
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	if ins.Timestamp.IsZero() {
		ins.Timestamp = m.now()
	}
	stored, err := s.AddInsight(m.self, ins)
	if err != nil {
		return domain.Insight{}, err
	}
	out := protocol.New(protocol.TypeInsight, m.sid)
	out.Insight = &stored
	_ = m.send(out)
	m.bus.Publish(events.InsightReceived, stored)
	return stored, nil
}

func (m *Manager) StartRecording() error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionStartRecording); err != nil {
		return err
	}
	if !s.Settings().RecordingEnabled {
		return domain.ErrRecordingDisabled
	}
	if err := s.StartRecording(m.self); err != nil {
		return err
	}
	_ = m.send(protocol.New(protocol.TypeStartRecording, m.sid))
	m.bus.Publish(events.SessionUpdated, s.Snapshot())
	return nil
}

func (m *Manager) PauseSession() error  { return m.setStatus(domain.SessionPaused) }
func (m *Manager) ResumeSession() error { return m.setStatus(domain.SessionActive) }

func (m *Manager) setStatus(status domain.SessionStatus) error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionChangeStatus); err != nil {
		return err
	}
	if err := s.SetStatus(m.self, status); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeSessionUpdate, m.sid)
	out.Status = status
	_ = m.send(out)
	m.bus.Publish(events.SessionUpdated, s.Snapshot())
	return nil
}

// EndSession terminates the session for everyone. Afterwards every action
// fails with domain.ErrSessionEnded.
func (m *Manager) EndSession() error {
	s, err := m.joined()
	if err != nil {
		return err
	}
	if err := s.Authorize(m.self, permission.ActionEndSession); err != nil {
		return err
	}
	if err := s.End(m.self); err != nil {
		return err
	}
	_ = m.send(protocol.New(protocol.TypeEndSession, m.sid))
	m.finish(m.self)
	return nil
}
