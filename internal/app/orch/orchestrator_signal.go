package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// Relay forwards offer, answer and ICE candidates to the target peer. Both
// ends must be in the same session. Media itself never touches the server.
func (o *Orchestrator) Relay(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if m.Target == pid {
		return fmt.Errorf("%w: %s to self", protocol.ErrMalformed, m.Type)
	}
	if _, ok := s.Participant(m.Target); !ok {
		return fmt.Errorf("relay %s to %s: %w", m.Type, m.Target, domain.ErrNotParticipant)
	}
	if sid, _, ok := o.Registry.SessionOf(m.Target); !ok || sid != s.ID() {
		return fmt.Errorf("relay %s to %s: %w", m.Type, m.Target, domain.ErrNotParticipant)
	}
	m.From = pid
	m.SessionID = s.ID()
	return o.SendTo(m.Target, m)
}

func (o *Orchestrator) Media(pid domain.ParticipantID, m protocol.Message) error {
	s, err := o.current(pid)
	if err != nil {
		return err
	}
	if err := s.UpdateMedia(pid, *m.Media, m.Seq); err != nil {
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
