package core

import "github.com/dkeye/Huddle/internal/domain"

// MemberSession binds a participant identity to its signaling endpoint.
// This is what the server fans out to.
type MemberSession interface {
	ID() domain.ParticipantID
	DisplayName() string
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
	Rename(name string) error
}
