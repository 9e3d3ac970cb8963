package orch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// CreateSession registers a session whose owner is creator.
func (o *Orchestrator) CreateSession(creator domain.ParticipantID, spec core.SessionSpec) (core.SessionService, error) {
	if spec.OwnerID == "" {
		spec.OwnerID = creator
	}
	return o.Sessions.Create(spec)
}

// Join admits pid into the session named by m. A participant who is still
// bound to another session leaves it first. Rejoining the same session
// replaces the previous record.
func (o *Orchestrator) Join(pid domain.ParticipantID, m protocol.Message) error {
	member, ok := o.Registry.Member(pid)
	if !ok {
		return domain.ErrNotParticipant
	}
	if sid, _, bound := o.Registry.SessionOf(pid); bound && sid != m.SessionID {
		_ = o.Leave(pid)
	}

	name := member.DisplayName()
	if m.Participant != nil && m.Participant.DisplayName != "" {
		if err := member.Rename(m.Participant.DisplayName); err != nil {
			return err
		}
		name = m.Participant.DisplayName
	}

	if _, live := o.Sessions.Get(m.SessionID); !live {
		if _, ended := o.Sessions.Archived(m.SessionID); ended {
			return fmt.Errorf("join %s: %w", m.SessionID, domain.ErrSessionEnded)
		}
	}
	s := o.Sessions.GetOrCreate(core.SessionSpec{ID: m.SessionID})
	p := domain.Participant{
		ID:          pid,
		DisplayName: name,
		Role:        s.ResolveRole(pid, o.DefaultRole),
	}
	if m.Participant != nil {
		p.Media = m.Participant.Media
		if m.Participant.Status.Valid() {
			p.Status = m.Participant.Status
		}
	}
	replaced, err := s.Join(p)
	if err != nil {
		return err
	}
	if live, ok := o.Sessions.Get(s.ID()); !ok || live != s {
		// Reaped between lookup and join; retry against the new record.
		_, _ = s.Leave(pid)
		return o.Join(pid, m)
	}
	o.Registry.SetSession(pid, s.ID())

	snap := s.Snapshot()
	joined := snap.Participants[pid]

	state := protocol.New(protocol.TypeSessionUpdate, s.ID())
	state.Session = &snap
	state.Status = snap.State.Status
	state.Participant = &joined
	if err := o.SendTo(pid, state); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("participant", string(pid)).Msg("send session state")
	}

	ann := protocol.New(protocol.TypeParticipantJoined, s.ID())
	ann.From = pid
	ann.Participant = &joined
	o.Broadcast(s, pid, ann)

	log.Info().Str("module", "orch").Str("participant", string(pid)).Str("session", string(s.ID())).
		Str("role", string(joined.Role)).Bool("replaced", replaced).Msg("joined")
	return nil
}

// Leave removes pid from its session; the connection stays open.
func (o *Orchestrator) Leave(pid domain.ParticipantID) error {
	s, err := o.current(pid)
	if errors.Is(err, domain.ErrSessionEnded) {
		o.Registry.ClearSession(pid)
	}
	if err != nil {
		return err
	}
	o.Registry.ClearSession(pid)
	if _, err := s.Leave(pid); err != nil {
		return err
	}
	if s.Count() == 0 {
		o.Sessions.Reap(s.ID())
		return nil
	}
	m := protocol.New(protocol.TypeParticipantLeft, s.ID())
	m.From = pid
	o.Broadcast(s, pid, m)
	return nil
}

// Disconnect is called by the adapter when a connection's pumps stop.
func (o *Orchestrator) Disconnect(pid domain.ParticipantID, member core.MemberSession) {
	if t, ok := o.Policy.(app.MemberTracker); ok {
		t.Forget(member)
	}
	current, ok := o.Registry.Member(pid)
	if !ok || current != member {
		return
	}
	if err := o.Leave(pid); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("participant", string(pid)).Msg("disconnect leave")
	}
	o.Registry.Unbind(pid, member)
}

func (o *Orchestrator) Invite(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	inv, err := s.Invite(pid, m.Target, m.Role)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeInvite, s.ID())
	out.From = pid
	out.Target = inv.ParticipantID
	out.Role = inv.Role
	if err := o.SendTo(inv.ParticipantID, out); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("target", string(inv.ParticipantID)).Msg("invitee not connected")
	}
	return nil
}

func (o *Orchestrator) Remove(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if _, err := s.Remove(pid, m.Target); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeRemove, s.ID())
	out.From = pid
	out.Target = m.Target
	o.Broadcast(s, "", out)
	if sid, _, ok := o.Registry.SessionOf(m.Target); ok && sid == s.ID() {
		o.Registry.ClearSession(m.Target)
	}
	return nil
}

func (o *Orchestrator) UpdatePermissions(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	g, err := s.SetGrant(pid, m.Target, m.Permissions, m.ExpiresAt)
	if err != nil {
		return err
	}
	out := protocol.New(protocol.TypeUpdatePermissions, s.ID())
	out.From = pid
	out.Target = m.Target
	out.Permissions = g.Capabilities
	out.ExpiresAt = g.ExpiresAt
	o.Broadcast(s, pid, out)
	return nil
}

func (o *Orchestrator) StartRecording(pid domain.ParticipantID) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.StartRecording(pid); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeStartRecording, s.ID())
	out.From = pid
	o.Broadcast(s, pid, out)
	return nil
}

func (o *Orchestrator) SetStatus(pid domain.ParticipantID, m protocol.Message) error {
	if m.Status == domain.SessionEnded {
		return o.End(pid)
	}
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.SetStatus(pid, m.Status); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeSessionUpdate, s.ID())
	out.From = pid
	out.Status = m.Status
	o.Broadcast(s, pid, out)
	return nil
}

// End terminates the session: everyone is told and the record is archived.
func (o *Orchestrator) End(pid domain.ParticipantID) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.End(pid); err != nil {
		return err
	}
	out := protocol.New(protocol.TypeEndSession, s.ID())
	out.From = pid
	out.Status = domain.SessionEnded
	o.Broadcast(s, pid, out)
	o.Sessions.Archive(s.ID())
	log.Info().Str("module", "orch").Str("session", string(s.ID())).Str("by", string(pid)).Msg("session ended")
	return nil
}
