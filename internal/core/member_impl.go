package core

import (
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
)

// memberSession implements MemberSession by pairing identity + transport.
type memberSession struct {
	id domain.ParticipantID

	mu     sync.RWMutex
	name   string
	signal SignalConnection
}

func NewMemberSession(id domain.ParticipantID, displayName string) MemberSession {
	return &memberSession{id: id, name: displayName}
}

func (m *memberSession) ID() domain.ParticipantID { return m.id }

func (m *memberSession) DisplayName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *memberSession) Signal() SignalConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signal
}

func (m *memberSession) UpdateSignal(sc SignalConnection) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signal = sc
	return m
}

func (m *memberSession) Rename(name string) error {
	if err := domain.ValidateDisplayName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return nil
}
