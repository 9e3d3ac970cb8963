package core

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestSession(t *testing.T, max int) (SessionService, *testClock) {
	t.Helper()
	clk := &testClock{now: t0}
	svc := NewSessionService(domain.Session{
		ID:       "s1",
		Title:    "Standup",
		Settings: domain.Settings{MaxParticipants: max, RecordingEnabled: true},
		Grants:   domain.DefaultGrants(t0),
	}, SessionOptions{Now: clk.Now})
	return svc, clk
}

func join(t *testing.T, s SessionService, id domain.ParticipantID, role domain.Role) {
	t.Helper()
	_, err := s.Join(domain.Participant{ID: id, DisplayName: string(id), Role: role})
	require.NoError(t, err)
}

func TestJoinActivatesAndSetsOwner(t *testing.T) {
	s, _ := newTestSession(t, 0)
	assert.Equal(t, domain.SessionWaiting, s.Status())
	join(t, s, "alice", domain.RoleOwner)

	snap := s.Snapshot()
	assert.Equal(t, domain.SessionActive, snap.State.Status)
	assert.Equal(t, domain.ParticipantID("alice"), snap.OwnerID)
	require.NotNil(t, snap.State.StartedAt)
	assert.Len(t, snap.Participants["alice"].Permissions, len(permission.AllCapabilities))
}

func TestDuplicateJoinReplaces(t *testing.T) {
	s, _ := newTestSession(t, 2)
	join(t, s, "alice", domain.RoleOwner)
	replaced, err := s.Join(domain.Participant{ID: "alice", DisplayName: "Alice 2", Role: domain.RoleOwner})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, 1, s.Count())
	p, _ := s.Participant("alice")
	assert.Equal(t, "Alice 2", p.DisplayName)
}

func TestCapacityExceeded(t *testing.T) {
	s, _ := newTestSession(t, 2)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleParticipant)

	_, err := s.Join(domain.Participant{ID: "carol", DisplayName: "Carol", Role: domain.RoleParticipant})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 2, s.Count())

	// A rejoin of an existing participant is not a capacity violation.
	_, err = s.Join(domain.Participant{ID: "bob", DisplayName: "Bob", Role: domain.RoleParticipant})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
}

func TestRandomJoinLeaveKeepsInvariants(t *testing.T) {
	const max = 4
	s, _ := newTestSession(t, max)
	rng := rand.New(rand.NewSource(42))
	ids := []domain.ParticipantID{"a", "b", "c", "d", "e", "f", "g"}

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(2) == 0 {
			_, err := s.Join(domain.Participant{ID: id, DisplayName: string(id), Role: domain.RoleParticipant})
			if err != nil {
				require.ErrorIs(t, err, domain.ErrCapacityExceeded)
			}
		} else {
			_, err := s.Leave(id)
			if err != nil {
				require.ErrorIs(t, err, domain.ErrNotParticipant)
			}
		}
		require.LessOrEqual(t, s.Count(), max)

		seen := map[domain.ParticipantID]bool{}
		for _, p := range s.Participants() {
			require.False(t, seen[p.ID], "duplicate %s", p.ID)
			seen[p.ID] = true
		}
	}
}

func TestViewerScenario(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleViewer)

	_, err := s.AddChat("alice", domain.ChatMessage{Content: "hi"})
	require.NoError(t, err)

	_, err = s.AddChat("bob", domain.ChatMessage{Content: "hi"})
	var denied *permission.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, permission.CanComment, denied.Capability)

	err = s.UpdateMedia("bob", domain.MediaState{Screen: true}, 0)
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, permission.CanShare, denied.Capability)

	// Turning things off never needs a capability.
	require.NoError(t, s.UpdateMedia("bob", domain.MediaState{}, 0))
	require.NoError(t, s.UpdateCursor("bob", domain.Location{X: 3, Y: 4}, 0))
}

func TestEndedRejectsMutations(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleParticipant)
	msg, err := s.AddChat("bob", domain.ChatMessage{Content: "before"})
	require.NoError(t, err)

	require.ErrorIs(t, s.End("bob"), permission.ErrDenied)
	require.NoError(t, s.End("alice"))
	assert.Equal(t, domain.SessionEnded, s.Status())

	mutations := map[string]func() error{
		"join":     func() error { _, err := s.Join(domain.Participant{ID: "carol", DisplayName: "c"}); return err },
		"leave":    func() error { _, err := s.Leave("bob"); return err },
		"media":    func() error { return s.UpdateMedia("bob", domain.MediaState{Audio: true}, 0) },
		"cursor":   func() error { return s.UpdateCursor("bob", domain.Location{}, 0) },
		"presence": func() error { return s.UpdatePresence("bob", domain.StatusAway, 0) },
		"chat":     func() error { _, err := s.AddChat("alice", domain.ChatMessage{Content: "x"}); return err },
		"react":    func() error { _, err := s.React("alice", msg.ID, "👍", true); return err },
		"share": func() error {
			_, err := s.ShareContent("alice", domain.SharedContent{Type: "document", Title: "x"})
			return err
		},
		"insight": func() error { _, err := s.AddInsight("alice", domain.Insight{Type: domain.InsightSummary}); return err },
		"grant":   func() error { _, err := s.SetGrant("alice", "bob", permission.FullSet(), nil); return err },
		"invite":  func() error { _, err := s.Invite("alice", "dave", domain.RoleViewer); return err },
		"remove":  func() error { _, err := s.Remove("alice", "bob"); return err },
		"record":  func() error { return s.StartRecording("alice") },
		"status":  func() error { return s.SetStatus("alice", domain.SessionActive) },
		"end":     func() error { return s.End("alice") },
	}
	for name, fn := range mutations {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), domain.ErrSessionEnded)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	require.NoError(t, s.SetStatus("alice", domain.SessionPaused))
	require.NoError(t, s.SetStatus("alice", domain.SessionActive))
	require.ErrorIs(t, s.SetStatus("alice", domain.SessionWaiting), domain.ErrInvalidTransition)
}

func TestPerFieldSequenceNumbers(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)

	require.NoError(t, s.UpdateCursor("alice", domain.Location{X: 1}, 5))
	require.ErrorIs(t, s.UpdateCursor("alice", domain.Location{X: 2}, 4), domain.ErrStaleUpdate)
	require.ErrorIs(t, s.UpdateCursor("alice", domain.Location{X: 2}, 5), domain.ErrStaleUpdate)
	p, _ := s.Participant("alice")
	assert.Equal(t, float64(1), p.Location.X)

	// Fields are independent.
	require.NoError(t, s.UpdatePresence("alice", domain.StatusAway, 1))
	require.NoError(t, s.UpdateMedia("alice", domain.MediaState{Audio: true}, 1))

	// Unsequenced updates apply in arrival order.
	require.NoError(t, s.UpdateCursor("alice", domain.Location{X: 7}, 0))
	p, _ = s.Participant("alice")
	assert.Equal(t, float64(7), p.Location.X)
	assert.Equal(t, domain.StatusAway, p.Status)
}

func TestReactRoundTrip(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleParticipant)
	msg, err := s.AddChat("alice", domain.ChatMessage{Content: "ship it"})
	require.NoError(t, err)
	_, err = s.React("alice", msg.ID, "🚀", true)
	require.NoError(t, err)
	before := s.Snapshot().State.Chat[0].Reactions

	_, err = s.React("bob", msg.ID, "🚀", true)
	require.NoError(t, err)
	after, err := s.React("bob", msg.ID, "🚀", false)
	require.NoError(t, err)
	assert.Equal(t, before, after.Reactions)

	_, err = s.React("bob", "missing", "🚀", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContentTombstone(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleParticipant)
	join(t, s, "carol", domain.RoleParticipant)

	c, err := s.ShareContent("bob", domain.SharedContent{Type: domain.ContentDocument, Title: "Spec draft"})
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("bob"), c.OwnerID)

	_, err = s.RemoveContent("carol", c.ID)
	require.ErrorIs(t, err, permission.ErrDenied)

	removed, err := s.RemoveContent("bob", c.ID)
	require.NoError(t, err)
	assert.True(t, removed.Removed)

	snap := s.Snapshot()
	require.Len(t, snap.State.SharedContent, 1, "removal must not delete the entry")
	assert.True(t, snap.State.SharedContent[0].Removed)
	assert.Equal(t, domain.ParticipantID("bob"), snap.State.SharedContent[0].RemovedBy)
}

func TestGrantChangesTakeEffectImmediately(t *testing.T) {
	s, clk := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleViewer)

	require.ErrorIs(t, s.Authorize("bob", permission.ActionShareScreen), permission.ErrDenied)

	exp := t0.Add(time.Hour)
	_, err := s.SetGrant("alice", "bob", permission.NewSet(permission.CanView, permission.CanShare), &exp)
	require.NoError(t, err)
	require.NoError(t, s.Authorize("bob", permission.ActionShareScreen))

	clk.now = t0.Add(2 * time.Hour)
	require.ErrorIs(t, s.Authorize("bob", permission.ActionShareScreen), permission.ErrDenied)
	// Expired user grant falls back to the viewer role grant.
	require.NoError(t, s.Authorize("bob", permission.ActionView))

	_, err = s.SetGrant("bob", "alice", permission.FullSet(), nil)
	require.ErrorIs(t, err, permission.ErrDenied)
}

func TestInviteAndRemove(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleParticipant)

	_, err := s.Invite("bob", "carol", domain.RoleModerator)
	require.ErrorIs(t, err, permission.ErrDenied)

	inv, err := s.Invite("alice", "carol", domain.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, inv.Role)
	assert.Equal(t, domain.RoleModerator, s.ResolveRole("carol", domain.RoleViewer))
	assert.Equal(t, domain.RoleViewer, s.ResolveRole("zed", domain.RoleViewer))
	assert.Equal(t, domain.RoleOwner, s.ResolveRole("alice", domain.RoleViewer))

	join(t, s, "carol", domain.RoleModerator)
	_, err = s.Remove("carol", "bob")
	require.NoError(t, err)
	_, err = s.Remove("carol", "alice")
	require.ErrorIs(t, err, permission.ErrDenied)
	assert.Equal(t, 2, s.Count())
}

func TestRemovedParticipantNeedsInvite(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	inv, err := s.Invite("alice", "bob", domain.RoleViewer)
	require.NoError(t, err)
	join(t, s, "bob", inv.Role)
	join(t, s, "mod", domain.RoleModerator)
	_, err = s.SetGrant("alice", "bob", permission.NewSet(permission.CanShare), nil)
	require.NoError(t, err)

	_, err = s.Remove("alice", "bob")
	require.NoError(t, err)
	_, err = s.Remove("alice", "mod")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []domain.ParticipantID{"bob", "mod"}, snap.Removed)
	assert.Empty(t, snap.Moderators)
	for _, g := range snap.Grants {
		assert.NotEqual(t, permission.ScopeUser, g.Scope, "user grants of removed participants are revoked")
	}

	_, err = s.Join(domain.Participant{ID: "bob", DisplayName: "bob", Role: s.ResolveRole("bob", domain.RoleParticipant)})
	var denied *permission.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, permission.ActionJoin, denied.Action)
	assert.Equal(t, domain.RoleParticipant, s.ResolveRole("mod", domain.RoleParticipant))
	_, err = s.Join(domain.Participant{ID: "mod", DisplayName: "mod", Role: domain.RoleParticipant})
	require.ErrorIs(t, err, permission.ErrDenied)

	_, err = s.Invite("alice", "bob", domain.RoleViewer)
	require.NoError(t, err)
	join(t, s, "bob", s.ResolveRole("bob", domain.RoleParticipant))
	p, ok := s.Participant("bob")
	require.True(t, ok)
	assert.Equal(t, domain.RoleViewer, p.Role)
	require.ErrorIs(t, s.UpdateMedia("bob", domain.MediaState{Screen: true}, 0), permission.ErrDenied)
}

func TestReplaceResetsSequences(t *testing.T) {
	m := NewSessionService(domain.Session{ID: "s1", Grants: domain.DefaultGrants(t0)}, SessionOptions{Mirror: true})
	join(t, m, "alice", domain.RoleOwner)
	join(t, m, "bob", domain.RoleParticipant)
	require.NoError(t, m.UpdateMedia("bob", domain.MediaState{Audio: true}, 40))
	require.ErrorIs(t, m.UpdateMedia("bob", domain.MediaState{}, 3), domain.ErrStaleUpdate)

	// bob reconnected with a fresh counter while we were away.
	m.Replace(m.Snapshot())
	require.NoError(t, m.UpdateMedia("bob", domain.MediaState{Video: true}, 1))
	require.NoError(t, m.UpdatePresence("bob", domain.StatusAway, 1))
	require.NoError(t, m.UpdateCursor("bob", domain.Location{X: 1, Y: 2}, 1))

	p, ok := m.Participant("bob")
	require.True(t, ok)
	assert.Equal(t, domain.MediaState{Video: true}, p.Media)
	assert.Equal(t, domain.StatusAway, p.Status)
}

func TestRecordingRequiresSetting(t *testing.T) {
	clk := &testClock{now: t0}
	s := NewSessionService(domain.Session{ID: "s2", Grants: domain.DefaultGrants(t0)}, SessionOptions{Now: clk.Now})
	join(t, s, "alice", domain.RoleOwner)
	require.ErrorIs(t, s.StartRecording("alice"), domain.ErrRecordingDisabled)
}

func TestMirrorSkipsEnforcement(t *testing.T) {
	m := NewSessionService(domain.Session{ID: "s1", Grants: domain.DefaultGrants(t0)}, SessionOptions{Mirror: true})
	join(t, m, "alice", domain.RoleOwner)
	join(t, m, "bob", domain.RoleViewer)

	// The server already authorized inbound changes.
	_, err := m.AddChat("bob", domain.ChatMessage{ID: "m1", Content: "relayed", SenderID: "bob"})
	require.NoError(t, err)
	// Local checks still evaluate.
	require.ErrorIs(t, m.Authorize("bob", permission.ActionSendChat), permission.ErrDenied)

	// Echoed messages are idempotent by id.
	_, err = m.AddChat("bob", domain.ChatMessage{ID: "m1", Content: "relayed", SenderID: "bob"})
	require.NoError(t, err)
	assert.Len(t, m.Snapshot().State.Chat, 1)
}

func TestAuditTrail(t *testing.T) {
	s, _ := newTestSession(t, 0)
	join(t, s, "alice", domain.RoleOwner)
	join(t, s, "bob", domain.RoleViewer)
	_, _ = s.AddChat("bob", domain.ChatMessage{Content: "x"})

	var denied int
	for _, e := range s.Audit() {
		if !e.Allowed {
			denied++
			assert.Equal(t, domain.ParticipantID("bob"), e.Actor)
			assert.Equal(t, string(permission.ActionSendChat), e.Action)
		}
	}
	assert.Equal(t, 1, denied)
}

func TestAuditLimit(t *testing.T) {
	s := NewSessionService(domain.Session{ID: "s3"}, SessionOptions{AuditLimit: 5})
	for i := 0; i < 10; i++ {
		_, err := s.Join(domain.Participant{ID: domain.ParticipantID(fmt.Sprint(i)), DisplayName: "x", Role: domain.RoleViewer})
		require.NoError(t, err)
	}
	assert.Len(t, s.Audit(), 5)
}
