package domain

import (
	"errors"
	"time"
)

const MaxChatContentLen = 4096

var (
	ErrChatEmpty   = errors.New("chat message empty")
	ErrChatTooLong = errors.New("chat message too long")
	ErrEmojiEmpty  = errors.New("emoji empty")
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
)

type Reaction struct {
	Emoji  string        `json:"emoji"`
	UserID ParticipantID `json:"userId"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

// ChatMessage is immutable once created except for its reaction set.
type ChatMessage struct {
	ID          string          `json:"id"`
	SenderID    ParticipantID   `json:"senderId"`
	Content     string          `json:"content"`
	Type        MessageType     `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Reactions   []Reaction      `json:"reactions"`
	Mentions    []ParticipantID `json:"mentions,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

func (m ChatMessage) Validate() error {
	if m.Content == "" && len(m.Attachments) == 0 {
		return ErrChatEmpty
	}
	if len(m.Content) > MaxChatContentLen {
		return ErrChatTooLong
	}
	return nil
}

// HasReaction reports whether user already reacted with emoji.
func (m *ChatMessage) HasReaction(user ParticipantID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == user && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// AddReaction inserts (user, emoji) if absent and reports whether the set
// changed.
func (m *ChatMessage) AddReaction(user ParticipantID, emoji string) bool {
	if m.HasReaction(user, emoji) {
		return false
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, UserID: user})
	return true
}

// RemoveReaction deletes (user, emoji) and reports whether the set changed.
// Relative order of the remaining reactions is preserved.
func (m *ChatMessage) RemoveReaction(user ParticipantID, emoji string) bool {
	for i, r := range m.Reactions {
		if r.UserID == user && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			return true
		}
	}
	return false
}

func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.Mentions = append([]ParticipantID(nil), m.Mentions...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	return out
}
