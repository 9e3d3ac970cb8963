package orch

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
	"github.com/dkeye/Huddle/internal/protocol"
)

func (o *Orchestrator) Chat(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	msg, err := s.AddChat(pid, *m.Chat)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeChatMessage, s.ID())
	out.From = pid
	out.Chat = &msg
	o.Broadcast(s, pid, out)
	return nil
}

func (o *Orchestrator) React(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if _, err := s.React(pid, m.Reaction.MessageID, m.Reaction.Emoji, m.Reaction.Action == protocol.ReactionAdd); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeMessageReaction, s.ID())
	out.From = pid
	r := *m.Reaction
	out.Reaction = &r
	o.Broadcast(s, pid, out)
	return nil
}

func (o *Orchestrator) ShareContent(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	c, err := s.ShareContent(pid, *m.Content)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeContentShared, s.ID())
	out.From = pid
	out.Content = &c
	o.Broadcast(s, pid, out)
	return nil
}

func (o *Orchestrator) RemoveContent(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if _, err := s.RemoveContent(pid, m.ContentID); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeContentRemoved, s.ID())
	out.From = pid
	out.ContentID = m.ContentID
	o.Broadcast(s, pid, out)
	return nil
}

// Cursor and Presence drop stale updates silently: the newer value already
// went out.
func (o *Orchestrator) Cursor(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.UpdateCursor(pid, *m.Cursor, m.Seq); err != nil {
		if errors.Is(err, domain.ErrStaleUpdate) {
			return nil
		}
		return err
	}
	m.From = pid
	m.SessionID = s.ID()
	o.Broadcast(s, pid, m)
	return nil
}

func (o *Orchestrator) Presence(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.UpdatePresence(pid, m.Presence, m.Seq); err != nil {
		if errors.Is(err, domain.ErrStaleUpdate) {
			return nil
		}
		return err
	}
	m.From = pid
	m.SessionID = s.ID()
	o.Broadcast(s, pid, m)
	return nil
}

// RequestInsight hands the request to every assistant in the session. The
// analysis itself happens outside this server.
func (o *Orchestrator) RequestInsight(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.Authorize(pid, permission.ActionRequestInsight); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeInsightRequest, s.ID())
	out.From = pid
	req := *m.InsightRequest
	out.InsightRequest = &req

	delivered := 0
	for _, p := range s.Participants() {
		if p.Role != domain.RoleAssistant || p.ID == pid {
			continue
		}
		if err := o.SendTo(p.ID, out); err == nil {
			delivered++
		}
	}
	log.Debug().Str("module", "orch").Str("session", string(s.ID())).Int("assistants", delivered).Msg("insight request forwarded")
	return nil
}

func (o *Orchestrator) PublishInsight(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	ins, err := s.AddInsight(pid, *m.Insight)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeInsight, s.ID())
	out.From = pid
	out.Insight = &ins
	o.Broadcast(s, pid, out)
	return nil
}
