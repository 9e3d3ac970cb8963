package permission

import "time"

type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeGroup Scope = "group"
	ScopeRole  Scope = "role"
)

// Grant binds a capability bundle to a principal at one scope. A grant with
// a non-nil ExpiresAt stops counting at that instant.
type Grant struct {
	Scope        Scope      `json:"scope"`
	Principal    string     `json:"principal"`
	Capabilities Set        `json:"capabilities"`
	GrantedBy    string     `json:"grantedBy,omitempty"`
	GrantedAt    time.Time  `json:"grantedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the grant still counts at now.
func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

func (g Grant) Clone() Grant {
	out := g
	out.Capabilities = g.Capabilities.Clone()
	if g.ExpiresAt != nil {
		exp := *g.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// Upsert replaces the grant with the same scope and principal or appends g.
func Upsert(grants []Grant, g Grant) []Grant {
	for i := range grants {
		if grants[i].Scope == g.Scope && grants[i].Principal == g.Principal {
			grants[i] = g
			return grants
		}
	}
	return append(grants, g)
}

// Revoke drops the grant with the given scope and principal.
func Revoke(grants []Grant, scope Scope, principal string) []Grant {
	out := grants[:0]
	for _, g := range grants {
		if g.Scope == scope && g.Principal == principal {
			continue
		}
		out = append(out, g)
	}
	return out
}

// CloneGrants deep-copies a grant list.
func CloneGrants(grants []Grant) []Grant {
	if grants == nil {
		return nil
	}
	out := make([]Grant, len(grants))
	for i, g := range grants {
		out[i] = g.Clone()
	}
	return out
}
