package collab

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

// Event payloads published by the Manager. Events not listed here carry
// the domain value itself: participant:joined and participant:updated a
// domain.Participant, chat:message_received a domain.ChatMessage,
// content:shared a domain.SharedContent, ai:insight_received a
// domain.Insight, session:updated a domain.Session and error:received an
// error.
type (
	Left struct {
		Participant domain.ParticipantID
		By          domain.ParticipantID
		Removed     bool
	}
	MediaChanged struct {
		Participant domain.ParticipantID
		Media       domain.MediaState
	}
	CursorMoved struct {
		Participant domain.ParticipantID
		Location    domain.Location
	}
	ReactionUpdated struct {
		Message domain.ChatMessage
		By      domain.ParticipantID
		Emoji   string
		Added   bool
	}
	ContentRemoved struct {
		Content domain.SharedContent
		By      domain.ParticipantID
	}
	PermissionsChanged struct {
		Target      domain.ParticipantID
		Permissions permission.Set
		ExpiresAt   *time.Time
		By          domain.ParticipantID
	}
	Invited struct {
		Session    domain.SessionID
		Invitation domain.Invitation
	}
	InsightRequested struct {
		From    domain.ParticipantID
		Request domain.InsightRequest
	}
	Ended struct {
		Session domain.SessionID
		By      domain.ParticipantID
	}
)
