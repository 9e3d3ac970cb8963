package core

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// SessionService is the core-facing API of one collaboration session.
// It owns the session record and serializes every mutation under one lock.
// Mutators take the acting participant and, in authoritative mode, check
// permissions against the grants current at call time.
type SessionService interface {
	ID() domain.SessionID
	Snapshot() domain.Session
	Status() domain.SessionStatus
	Settings() domain.Settings
	Count() int
	Participant(id domain.ParticipantID) (domain.Participant, bool)
	Participants() []domain.Participant
	ResolveRole(id domain.ParticipantID, fallback domain.Role) domain.Role
	Authorize(actor domain.ParticipantID, action permission.Action) error
	Audit() []domain.AuditEntry

	Join(p domain.Participant) (replaced bool, err error)
	Leave(id domain.ParticipantID) (domain.Participant, error)

	UpdateMedia(actor domain.ParticipantID, media domain.MediaState, seq uint64) error
	UpdateCursor(actor domain.ParticipantID, loc domain.Location, seq uint64) error
	UpdatePresence(actor domain.ParticipantID, status domain.Status, seq uint64) error

	AddChat(actor domain.ParticipantID, msg domain.ChatMessage) (domain.ChatMessage, error)
	React(actor domain.ParticipantID, messageID, emoji string, add bool) (domain.ChatMessage, error)

	ShareContent(actor domain.ParticipantID, content domain.SharedContent) (domain.SharedContent, error)
	RemoveContent(actor domain.ParticipantID, contentID string) (domain.SharedContent, error)

	AddInsight(actor domain.ParticipantID, insight domain.Insight) (domain.Insight, error)

	SetGrant(actor, target domain.ParticipantID, caps permission.Set, expiresAt *time.Time) (permission.Grant, error)
	Invite(actor, target domain.ParticipantID, role domain.Role) (domain.Invitation, error)
	Remove(actor, target domain.ParticipantID) (domain.Participant, error)

	StartRecording(actor domain.ParticipantID) error
	SetStatus(actor domain.ParticipantID, status domain.SessionStatus) error
	End(actor domain.ParticipantID) error

	// Replace overwrites the record with an authoritative snapshot. Only
	// meaningful for client mirrors.
	Replace(rec domain.Session)
}

type SessionInfo struct {
	ID               domain.SessionID     `json:"id"`
	Title            string               `json:"title"`
	Type             domain.SessionType   `json:"type"`
	Status           domain.SessionStatus `json:"status"`
	ParticipantCount int                  `json:"participant_count"`
	MaxParticipants  int                  `json:"max_participants"`
}

// SessionSpec describes a session to create.
type SessionSpec struct {
	ID       domain.SessionID
	Title    string
	Type     domain.SessionType
	OwnerID  domain.ParticipantID
	Settings domain.Settings
}

type SessionManager interface {
	Create(spec SessionSpec) (SessionService, error)
	Get(id domain.SessionID) (SessionService, bool)
	GetOrCreate(spec SessionSpec) SessionService
	List() []SessionInfo
	Archive(id domain.SessionID)
	// Reap drops a session that join_session created on the fly once it
	// has no participants left. Sessions created explicitly are kept.
	Reap(id domain.SessionID) bool
	// Archived returns the final snapshot of an ended session.
	Archived(id domain.SessionID) (domain.Session, bool)
}
