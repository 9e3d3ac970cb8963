package permission

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

func TestOwnerAlwaysPasses(t *testing.T) {
	c := NewChecker(fixedNow)
	target := Target{OwnerID: "alice"}
	for action := range requiredCapability {
		d := c.Check(Subject{ID: "alice"}, action, target)
		assert.True(t, d.Allowed, "owner denied %s", action)
	}
	assert.True(t, c.Check(Subject{ID: "alice"}, Action("made_up"), target).Allowed)
}

func TestNoGrantDeniesEveryAction(t *testing.T) {
	c := NewChecker(fixedNow)
	target := Target{
		OwnerID: "alice",
		Grants:  []Grant{{Scope: ScopeUser, Principal: "carol", Capabilities: FullSet()}},
	}
	for action := range requiredCapability {
		d := c.Check(Subject{ID: "bob", Role: "participant"}, action, target)
		require.False(t, d.Allowed, "bob allowed %s without grant", action)
		require.ErrorIs(t, d.Err(), ErrDenied)
	}
}

func TestExpiredGrantEqualsNoGrant(t *testing.T) {
	c := NewChecker(fixedNow)
	past := epoch.Add(-time.Minute)
	sub := Subject{ID: "bob", Role: "viewer"}

	expired := Target{Grants: []Grant{{Scope: ScopeUser, Principal: "bob", Capabilities: FullSet(), ExpiresAt: &past}}}
	none := Target{}
	for action := range requiredCapability {
		assert.Equal(t, c.Check(sub, action, none).Allowed, c.Check(sub, action, expired).Allowed, action)
	}

	// Expired user grant falls through to the role grant.
	withRole := Target{Grants: []Grant{
		{Scope: ScopeUser, Principal: "bob", Capabilities: FullSet(), ExpiresAt: &past},
		{Scope: ScopeRole, Principal: "viewer", Capabilities: NewSet(CanView)},
	}}
	assert.True(t, c.Check(sub, ActionView, withRole).Allowed)
	assert.False(t, c.Check(sub, ActionShareScreen, withRole).Allowed)
}

func TestGrantExpiresAtBoundary(t *testing.T) {
	exp := epoch
	target := Target{Grants: []Grant{{Scope: ScopeUser, Principal: "bob", Capabilities: NewSet(CanView), ExpiresAt: &exp}}}

	before := NewChecker(func() time.Time { return epoch.Add(-time.Second) })
	assert.True(t, before.Check(Subject{ID: "bob"}, ActionView, target).Allowed)

	at := NewChecker(fixedNow)
	assert.False(t, at.Check(Subject{ID: "bob"}, ActionView, target).Allowed)
}

func TestMostSpecificGrantWins(t *testing.T) {
	c := NewChecker(fixedNow)
	target := Target{Grants: []Grant{
		{Scope: ScopeRole, Principal: "participant", Capabilities: NewSet(CanView, CanShare, CanComment)},
		{Scope: ScopeGroup, Principal: "legal", Capabilities: NewSet(CanView, CanComment)},
		{Scope: ScopeGroup, Principal: "audit", Capabilities: NewSet(CanAudit)},
		{Scope: ScopeUser, Principal: "bob", Capabilities: NewSet(CanView)},
	}}

	bob := Subject{ID: "bob", Role: "participant", Groups: []string{"legal"}}
	d := c.Check(bob, ActionSendChat, target)
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeUser, d.Scope)

	dave := Subject{ID: "dave", Role: "participant", Groups: []string{"legal", "audit"}}
	assert.True(t, c.Check(dave, ActionViewAudit, target).Allowed)
	assert.True(t, c.Check(dave, ActionSendChat, target).Allowed)
	assert.False(t, c.Check(dave, ActionShareScreen, target).Allowed, "group grant must shadow role grant")

	erin := Subject{ID: "erin", Role: "participant"}
	assert.True(t, c.Check(erin, ActionShareScreen, target).Allowed)
}

func TestDeniedErrorNamesCapability(t *testing.T) {
	c := NewChecker(fixedNow)
	target := Target{Grants: []Grant{{Scope: ScopeRole, Principal: "viewer", Capabilities: NewSet(CanView)}}}
	err := c.Check(Subject{ID: "bob", Role: "viewer"}, ActionShareScreen, target).Err()

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, CanShare, denied.Capability)
	assert.Equal(t, ActionShareScreen, denied.Action)
	assert.Contains(t, err.Error(), "canShare")
}

func TestEffective(t *testing.T) {
	c := NewChecker(fixedNow)
	target := Target{OwnerID: "alice", Grants: []Grant{{Scope: ScopeRole, Principal: "viewer", Capabilities: NewSet(CanView)}}}
	assert.Equal(t, []Capability{CanView}, c.Effective(Subject{ID: "bob", Role: "viewer"}, target).List())
	assert.Len(t, c.Effective(Subject{ID: "alice"}, target).List(), len(AllCapabilities))
	assert.Empty(t, c.Effective(Subject{ID: "zed", Role: "guest"}, target))
}

func TestUpsertAndRevoke(t *testing.T) {
	grants := Upsert(nil, Grant{Scope: ScopeUser, Principal: "bob", Capabilities: NewSet(CanView)})
	grants = Upsert(grants, Grant{Scope: ScopeUser, Principal: "bob", Capabilities: NewSet(CanEdit)})
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Capabilities.Has(CanEdit))
	assert.False(t, grants[0].Capabilities.Has(CanView))

	grants = Revoke(grants, ScopeUser, "bob")
	assert.Empty(t, grants)
}

func TestEveryActionHasCapability(t *testing.T) {
	for action, c := range requiredCapability {
		assert.Contains(t, AllCapabilities, c, action)
	}
}
