package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/permission"
)

func TestReactionToggleIsInverse(t *testing.T) {
	msg := ChatMessage{
		ID:        "m1",
		SenderID:  "alice",
		Content:   "hello",
		Reactions: []Reaction{{Emoji: "👍", UserID: "carol"}, {Emoji: "🎉", UserID: "alice"}},
	}
	original := msg.Clone().Reactions

	assert.True(t, msg.AddReaction("bob", "🎉"))
	assert.False(t, msg.AddReaction("bob", "🎉"), "duplicate add must not change the set")
	assert.Len(t, msg.Reactions, 3)

	assert.True(t, msg.RemoveReaction("bob", "🎉"))
	assert.Equal(t, original, msg.Reactions)
	assert.False(t, msg.RemoveReaction("bob", "🎉"))
}

func TestReactionToggleFromEmpty(t *testing.T) {
	msg := ChatMessage{ID: "m1", Content: "hi"}
	msg.AddReaction("bob", "👍")
	msg.RemoveReaction("bob", "👍")
	assert.Empty(t, msg.Reactions)
}

func TestReactionsKeyedByUserAndEmoji(t *testing.T) {
	msg := ChatMessage{ID: "m1", Content: "hi"}
	msg.AddReaction("bob", "👍")
	msg.AddReaction("bob", "🎉")
	msg.AddReaction("carol", "👍")
	assert.Len(t, msg.Reactions, 3)
	msg.RemoveReaction("bob", "👍")
	assert.True(t, msg.HasReaction("carol", "👍"))
	assert.True(t, msg.HasReaction("bob", "🎉"))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionWaiting, SessionActive, true},
		{SessionWaiting, SessionPaused, false},
		{SessionWaiting, SessionEnded, true},
		{SessionActive, SessionPaused, true},
		{SessionPaused, SessionActive, true},
		{SessionActive, SessionWaiting, false},
		{SessionPaused, SessionEnded, true},
		{SessionEnded, SessionActive, false},
		{SessionEnded, SessionEnded, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("p1", "Alice", Role("bogus"))
	require.NoError(t, err)
	assert.Equal(t, RoleParticipant, p.Role)
	assert.Equal(t, StatusOnline, p.Status)

	_, err = NewParticipant("", "Alice", RoleViewer)
	assert.ErrorIs(t, err, ErrParticipantIDEmpty)
	_, err = NewParticipant("p1", "", RoleViewer)
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)
	_, err = NewParticipant("p1", strings.Repeat("x", MaxDisplayNameLen+1), RoleViewer)
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestContentTarget(t *testing.T) {
	c := SharedContent{
		ID: "doc", Type: ContentDocument, Title: "Plan", OwnerID: "alice",
		Permissions: ContentPermissions{Editors: []ParticipantID{"bob"}, Viewers: []ParticipantID{"carol"}},
	}
	checker := permission.NewChecker(nil)
	target := c.Target()
	assert.True(t, checker.Check(permission.Subject{ID: "alice"}, permission.ActionDeleteContent, target).Allowed)
	assert.True(t, checker.Check(permission.Subject{ID: "bob"}, permission.ActionEditContent, target).Allowed)
	assert.False(t, checker.Check(permission.Subject{ID: "carol"}, permission.ActionEditContent, target).Allowed)
	assert.True(t, checker.Check(permission.Subject{ID: "carol"}, permission.ActionView, target).Allowed)
	assert.False(t, checker.Check(permission.Subject{ID: "dave", Role: "participant"}, permission.ActionView, target).Allowed)

	c.Permissions.Public = true
	assert.True(t, checker.Check(permission.Subject{ID: "dave", Role: "participant"}, permission.ActionView, c.Target()).Allowed)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := Session{
		ID:           "s1",
		Participants: map[ParticipantID]Participant{"a": {ID: "a", Location: &Location{X: 1}}},
		Grants:       DefaultGrants(time.Now()),
		State:        State{Chat: []ChatMessage{{ID: "m1", Content: "x"}}},
	}
	c := s.Clone()
	c.Participants["a"].Location.X = 9
	c.State.Chat[0].AddReaction("b", "👍")
	c.Grants[0].Capabilities[permission.CanSign] = true

	assert.Equal(t, float64(1), s.Participants["a"].Location.X)
	assert.Empty(t, s.State.Chat[0].Reactions)
	assert.False(t, s.Grants[0].Capabilities.Has(permission.CanSign))
}
