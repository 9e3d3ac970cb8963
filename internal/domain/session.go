package domain

import (
	"time"

	"github.com/dkeye/Huddle/internal/permission"
)

type SessionID string

type SessionType string

const (
	SessionMeeting      SessionType = "meeting"
	SessionDocument     SessionType = "document"
	SessionWhiteboard   SessionType = "whiteboard"
	SessionPresentation SessionType = "presentation"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionMeeting, SessionDocument, SessionWhiteboard, SessionPresentation:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionEnded   SessionStatus = "ended"
)

// CanTransition reports whether the lifecycle allows from -> to. Status only
// moves forward, except active and paused which may alternate.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionWaiting:
		return to == SessionActive || to == SessionEnded
	case SessionActive:
		return to == SessionPaused || to == SessionEnded
	case SessionPaused:
		return to == SessionActive || to == SessionEnded
	}
	return false
}

type EncryptionTier string

const (
	EncryptionStandard EncryptionTier = "standard"
	EncryptionE2E      EncryptionTier = "e2e"
)

type Settings struct {
	MaxParticipants      int            `json:"maxParticipants"`
	RecordingEnabled     bool           `json:"recordingEnabled"`
	TranscriptionEnabled bool           `json:"transcriptionEnabled"`
	AIEnabled            bool           `json:"aiEnabled"`
	ComplianceMode       bool           `json:"complianceMode"`
	Encryption           EncryptionTier `json:"encryption"`
}

type State struct {
	Status        SessionStatus   `json:"status"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	EndedAt       *time.Time      `json:"endedAt,omitempty"`
	Recording     bool            `json:"recording"`
	SharedContent []SharedContent `json:"sharedContent"`
	Chat          []ChatMessage   `json:"chat"`
	Insights      []Insight       `json:"insights"`
}

// Invitation reserves a role for a participant who has not joined yet.
type Invitation struct {
	ParticipantID ParticipantID `json:"participantId"`
	Role          Role          `json:"role"`
	InvitedBy     ParticipantID `json:"invitedBy"`
	InvitedAt     time.Time     `json:"invitedAt"`
}

// Session is the in-memory session record. Values of this type are
// snapshots; the live record is owned by a core.SessionService.
// Removed lists participants a moderator removed; they cannot join again
// until invited.
type Session struct {
	ID           SessionID                     `json:"id"`
	Title        string                        `json:"title"`
	Type         SessionType                   `json:"type"`
	OwnerID      ParticipantID                 `json:"ownerId"`
	Participants map[ParticipantID]Participant `json:"participants"`
	Moderators   []ParticipantID               `json:"moderators"`
	Invitations  []Invitation                  `json:"invitations,omitempty"`
	Removed      []ParticipantID               `json:"removed,omitempty"`
	Settings     Settings                      `json:"settings"`
	Grants       []permission.Grant            `json:"grants"`
	State        State                         `json:"state"`
	CreatedAt    time.Time                     `json:"createdAt"`
}

// Target is the permission target for the session as a whole.
func (s *Session) Target() permission.Target {
	return permission.Target{OwnerID: string(s.OwnerID), Grants: s.Grants}
}

func (s *Session) IsModerator(id ParticipantID) bool {
	for _, m := range s.Moderators {
		if m == id {
			return true
		}
	}
	return false
}

func (s *Session) IsRemoved(id ParticipantID) bool {
	for _, r := range s.Removed {
		if r == id {
			return true
		}
	}
	return false
}

func (s *Session) Ended() bool { return s.State.Status == SessionEnded }

// FindMessage returns the index of the chat message with id, or -1.
func (s *Session) FindMessage(id string) int {
	for i := range s.State.Chat {
		if s.State.Chat[i].ID == id {
			return i
		}
	}
	return -1
}

// FindContent returns the index of the shared content with id, or -1.
func (s *Session) FindContent(id string) int {
	for i := range s.State.SharedContent {
		if s.State.SharedContent[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone deep-copies the session record.
func (s *Session) Clone() Session {
	out := *s
	out.Participants = make(map[ParticipantID]Participant, len(s.Participants))
	for id, p := range s.Participants {
		out.Participants[id] = p.Clone()
	}
	out.Moderators = append([]ParticipantID(nil), s.Moderators...)
	out.Invitations = append([]Invitation(nil), s.Invitations...)
	out.Removed = append([]ParticipantID(nil), s.Removed...)
	out.Grants = permission.CloneGrants(s.Grants)
	out.State.SharedContent = make([]SharedContent, len(s.State.SharedContent))
	for i, c := range s.State.SharedContent {
		out.State.SharedContent[i] = c.Clone()
	}
	out.State.Chat = make([]ChatMessage, len(s.State.Chat))
	for i, m := range s.State.Chat {
		out.State.Chat[i] = m.Clone()
	}
	out.State.Insights = append([]Insight(nil), s.State.Insights...)
	return out
}
