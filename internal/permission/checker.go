package permission

import (
	"errors"
	"fmt"
	"time"
)

var ErrDenied = errors.New("permission denied")

// DeniedError carries the action and capability that failed the check.
type DeniedError struct {
	Action     Action
	Capability Capability
	Reason     string
}

func (e *DeniedError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("permission denied: %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s requires %s: %s", e.Action, e.Capability, e.Reason)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Subject is whoever attempts an action.
type Subject struct {
	ID     string
	Role   string
	Groups []string
}

// Target is the object being acted on: a session or a shared content item.
type Target struct {
	OwnerID string
	Grants  []Grant
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	Action     Action
	Capability Capability
	Scope      Scope
	Reason     string
}

// Err returns nil for an allowed decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Action: d.Action, Capability: d.Capability, Reason: d.Reason}
}

// Checker evaluates grants against the current time on every call; nothing
// is cached between checks.
type Checker struct {
	now func() time.Time
}

func NewChecker(now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{now: now}
}

func (c *Checker) Check(sub Subject, action Action, target Target) Decision {
	d := Decision{Action: action}
	capability, known := RequiredCapability(action)
	d.Capability = capability

	if sub.ID != "" && sub.ID == target.OwnerID {
		d.Allowed = true
		d.Reason = "owner"
		return d
	}
	if !known {
		d.Reason = "unknown action"
		return d
	}

	set, scope, ok := c.resolve(sub, target.Grants)
	if !ok {
		d.Reason = "no active grant"
		return d
	}
	d.Scope = scope
	if !set.Has(capability) {
		d.Reason = fmt.Sprintf("%s grant lacks capability", scope)
		return d
	}
	d.Allowed = true
	d.Reason = string(scope) + " grant"
	return d
}

// Effective returns the capability set the subject currently holds on
// target. Owners hold everything.
func (c *Checker) Effective(sub Subject, target Target) Set {
	if sub.ID != "" && sub.ID == target.OwnerID {
		return FullSet()
	}
	set, _, ok := c.resolve(sub, target.Grants)
	if !ok {
		return Set{}
	}
	return set.Clone()
}

// resolve picks the most specific active grant level. User beats group beats
// role; all active grants for the subject's groups are merged.
func (c *Checker) resolve(sub Subject, grants []Grant) (Set, Scope, bool) {
	now := c.now()

	for _, g := range grants {
		if g.Scope == ScopeUser && g.Principal == sub.ID && g.Active(now) {
			return g.Capabilities, ScopeUser, true
		}
	}

	var merged Set
	for _, g := range grants {
		if g.Scope != ScopeGroup || !g.Active(now) {
			continue
		}
		for _, group := range sub.Groups {
			if g.Principal == group {
				merged = merged.Union(g.Capabilities)
				break
			}
		}
	}
	if merged != nil {
		return merged, ScopeGroup, true
	}

	for _, g := range grants {
		if g.Scope == ScopeRole && g.Principal == sub.Role && g.Active(now) {
			return g.Capabilities, ScopeRole, true
		}
	}
	return nil, "", false
}
