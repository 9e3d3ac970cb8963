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

var ErrNotJoined = fmt.Errorf("not in a session: %w", domain.ErrNotParticipant)

// Orchestrator is the authoritative side of every session. It applies
// client requests to the session record and fans the results out to the
// connected participants.
type Orchestrator struct {
	Registry    *app.Registry
	Sessions    core.SessionManager
	Policy      app.Policy
	DefaultRole domain.Role
}

func New(reg *app.Registry, sessions core.SessionManager, policy app.Policy, defaultRole domain.Role) *Orchestrator {
	if !defaultRole.Valid() || defaultRole == domain.RoleOwner {
		defaultRole = domain.RoleParticipant
	}
	return &Orchestrator{Registry: reg, Sessions: sessions, Policy: policy, DefaultRole: defaultRole}
}

// Handle routes one decoded message from pid. The returned error is meant
// for the sender only.
func (o *Orchestrator) Handle(pid domain.ParticipantID, m protocol.Message) error {
	switch m.Type {
	case protocol.TypeJoinSession:
		return o.Join(pid, m)
	case protocol.TypeLeaveSession:
		return o.Leave(pid)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		return o.Relay(pid, m)
	case protocol.TypeChatMessage:
		return o.Chat(pid, m)
	case protocol.TypeMessageReaction:
		return o.React(pid, m)
	case protocol.TypeContentShared:
		return o.ShareContent(pid, m)
	case protocol.TypeContentRemoved:
		return o.RemoveContent(pid, m)
	case protocol.TypeCursorUpdate:
		return o.Cursor(pid, m)
	case protocol.TypePresenceUpdate:
		return o.Presence(pid, m)
	case protocol.TypeMediaState:
		return o.Media(pid, m)
	case protocol.TypeUpdatePermissions:
		return o.UpdatePermissions(pid, m)
	case protocol.TypeInvite:
		return o.Invite(pid, m)
	case protocol.TypeRemove:
		return o.Remove(pid, m)
	case protocol.TypeInsightRequest:
		return o.RequestInsight(pid, m)
	case protocol.TypeInsight:
		return o.PublishInsight(pid, m)
	case protocol.TypeStartRecording:
		return o.StartRecording(pid)
	case protocol.TypeSessionUpdate:
		return o.SetStatus(pid, m)
	case protocol.TypeEndSession:
		return o.End(pid)
	}
	log.Warn().Str("module", "orch").Str("participant", string(pid)).Str("type", string(m.Type)).Msg("unhandled message")
	return fmt.Errorf("%w: %s is server-originated", protocol.ErrUnknownType, m.Type)
}

// current returns the live session pid is bound to. Members of an ended
// session stay bound to it, so everything they send afterwards fails with
// ErrSessionEnded until they leave or join elsewhere.
func (o *Orchestrator) current(pid domain.ParticipantID) (core.SessionService, error) {
	sid, _, ok := o.Registry.SessionOf(pid)
	if !ok {
		return nil, ErrNotJoined
	}
	s, ok := o.Sessions.Get(sid)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sid, domain.ErrSessionEnded)
	}
	return s, nil
}

// Broadcast sends m to every connected member of s except the excluded
// participant. Slow receivers go through the backpressure policy.
func (o *Orchestrator) Broadcast(s core.SessionService, exclude domain.ParticipantID, m protocol.Message) core.PublishResult {
	var res core.PublishResult
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("broadcast encode")
		return res
	}
	for _, snap := range o.Registry.MembersOfSession(s.ID()) {
		if snap.ParticipantID == exclude {
			continue
		}
		sc := snap.Member.Signal()
		if sc == nil {
			continue
		}
		switch err := sc.TrySend(frame); {
		case err == nil:
			res.SendTo++
			o.delivered(snap.Member)
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, snap.Member)
		}
	}
	o.applyPolicy(s, res.Dropped)
	return res
}

// SendTo delivers m to a single participant's connection, wherever it is.
func (o *Orchestrator) SendTo(pid domain.ParticipantID, m protocol.Message) error {
	member, ok := o.Registry.Member(pid)
	if !ok || member.Signal() == nil {
		return fmt.Errorf("send to %s: %w", pid, domain.ErrNotParticipant)
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := member.Signal().TrySend(frame); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			if s, serr := o.current(pid); serr == nil {
				o.applyPolicy(s, []core.MemberSession{member})
			}
		}
		return err
	}
	o.delivered(member)
	return nil
}

func (o *Orchestrator) delivered(member core.MemberSession) {
	if t, ok := o.Policy.(app.MemberTracker); ok {
		t.OnDelivered(member)
	}
}

func (o *Orchestrator) applyPolicy(s core.SessionService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(s, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("participant", string(slow.ID())).Msg("kicking slow participant")
			o.Kick(slow.ID())
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// Kick closes pid's connection. Membership cleanup follows through
// Disconnect once its pumps stop.
func (o *Orchestrator) Kick(pid domain.ParticipantID) {
	o.Registry.Cancel(pid)
}
