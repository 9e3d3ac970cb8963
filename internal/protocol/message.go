// Package protocol defines the JSON signaling messages exchanged between
// participants and the server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

type Type string

const (
	TypeJoinSession       Type = "join_session"
	TypeLeaveSession      Type = "leave_session"
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
	TypeInvite            Type = "invite_participant"
	TypeRemove            Type = "remove_participant"
	TypeUpdatePermissions Type = "update_permissions"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice_candidate"
	TypeChatMessage       Type = "chat_message"
	TypeMessageReaction   Type = "message_reaction"
	TypeContentShared     Type = "content_shared"
	TypeContentRemoved    Type = "content_removed"
	TypeCursorUpdate      Type = "cursor_update"
	TypePresenceUpdate    Type = "presence_update"
	TypeMediaState        Type = "media_state_update"
	TypeInsightRequest    Type = "ai_insight_request"
	TypeInsight           Type = "ai_insight"
	TypeStartRecording    Type = "start_recording"
	TypeEndSession        Type = "end_session"
	TypeSessionUpdate     Type = "session_update"
	TypePing              Type = "ping"
	TypePong              Type = "pong"
	TypeError             Type = "error"
)

var known = map[Type]bool{
	TypeJoinSession: true, TypeLeaveSession: true, TypeParticipantJoined: true,
	TypeParticipantLeft: true, TypeInvite: true, TypeRemove: true,
	TypeUpdatePermissions: true, TypeOffer: true, TypeAnswer: true,
	TypeICECandidate: true, TypeChatMessage: true, TypeMessageReaction: true,
	TypeContentShared: true, TypeContentRemoved: true, TypeCursorUpdate: true,
	TypePresenceUpdate: true, TypeMediaState: true, TypeInsightRequest: true,
	TypeInsight: true, TypeStartRecording: true, TypeEndSession: true,
	TypeSessionUpdate: true, TypePing: true, TypePong: true, TypeError: true,
}

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

type Reaction struct {
	MessageID string         `json:"messageId"`
	Emoji     string         `json:"emoji"`
	Action    ReactionAction `json:"action"`
}

// Message is the single envelope for every signaling type. Only the fields
// relevant to Type are set.
type Message struct {
	Type      Type                 `json:"type"`
	SessionID domain.SessionID     `json:"sessionId,omitempty"`
	Timestamp int64                `json:"timestamp"`
	From      domain.ParticipantID `json:"from,omitempty"`
	Target    domain.ParticipantID `json:"targetParticipant,omitempty"`
	Seq       uint64               `json:"seq,omitempty"`

	Participant *domain.Participant `json:"participant,omitempty"`
	Role        domain.Role         `json:"role,omitempty"`

	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	Chat     *domain.ChatMessage `json:"message,omitempty"`
	Reaction *Reaction           `json:"reaction,omitempty"`

	Content   *domain.SharedContent `json:"content,omitempty"`
	ContentID string                `json:"contentId,omitempty"`

	Cursor   *domain.Location   `json:"cursor,omitempty"`
	Presence domain.Status      `json:"presence,omitempty"`
	Media    *domain.MediaState `json:"media,omitempty"`

	Permissions permission.Set `json:"permissions,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`

	Insight        *domain.Insight        `json:"insight,omitempty"`
	InsightRequest *domain.InsightRequest `json:"insightRequest,omitempty"`

	Session *domain.Session      `json:"session,omitempty"`
	Status  domain.SessionStatus `json:"status,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// New returns a message of type t stamped with the current time.
func New(t Type, sid domain.SessionID) Message {
	return Message{Type: t, SessionID: sid, Timestamp: time.Now().UnixMilli()}
}

func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }

// Encode marshals m, filling in a missing timestamp.
func Encode(m Message) ([]byte, error) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses one frame and checks that the payload its type needs is
// present.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !known[m.Type] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformed, m.Type, field)
	}
	switch m.Type {
	case TypeJoinSession:
		if m.SessionID == "" {
			return missing("sessionId")
		}
	case TypeOffer:
		if m.Offer == nil || m.Target == "" {
			return missing("offer and targetParticipant")
		}
	case TypeAnswer:
		if m.Answer == nil || m.Target == "" {
			return missing("answer and targetParticipant")
		}
	case TypeICECandidate:
		if m.Candidate == nil || m.Target == "" {
			return missing("candidate and targetParticipant")
		}
	case TypeChatMessage:
		if m.Chat == nil {
			return missing("message")
		}
	case TypeMessageReaction:
		if m.Reaction == nil || m.Reaction.MessageID == "" {
			return missing("reaction.messageId")
		}
		if m.Reaction.Action != ReactionAdd && m.Reaction.Action != ReactionRemove {
			return fmt.Errorf("%w: reaction action %q", ErrMalformed, m.Reaction.Action)
		}
	case TypeContentShared:
		if m.Content == nil {
			return missing("content")
		}
	case TypeContentRemoved:
		if m.ContentID == "" {
			return missing("contentId")
		}
	case TypeCursorUpdate:
		if m.Cursor == nil {
			return missing("cursor")
		}
	case TypePresenceUpdate:
		if m.Presence == "" {
			return missing("presence")
		}
	case TypeMediaState:
		if m.Media == nil {
			return missing("media")
		}
	case TypeUpdatePermissions:
		if m.Target == "" || m.Permissions == nil {
			return missing("targetParticipant and permissions")
		}
	case TypeInvite, TypeRemove:
		if m.Target == "" {
			return missing("targetParticipant")
		}
	case TypeInsightRequest:
		if m.InsightRequest == nil {
			return missing("insightRequest")
		}
	case TypeInsight:
		if m.Insight == nil {
			return missing("insight")
		}
	case TypeParticipantJoined:
		if m.Participant == nil {
			return missing("participant")
		}
	case TypeError:
		if m.Error == nil {
			return missing("error")
		}
	}
	return nil
}
