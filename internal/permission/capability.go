// Package permission decides who may perform which action on a session or a
// piece of shared content. It is pure data and logic: no I/O, no locking.
package permission

import "sort"

type Capability string

const (
	CanView              Capability = "canView"
	CanEdit              Capability = "canEdit"
	CanComment           Capability = "canComment"
	CanAnnotate          Capability = "canAnnotate"
	CanDownload          Capability = "canDownload"
	CanPrint             Capability = "canPrint"
	CanShare             Capability = "canShare"
	CanDelete            Capability = "canDelete"
	CanChangePermissions Capability = "canChangePermissions"
	CanApprove           Capability = "canApprove"
	CanSign              Capability = "canSign"
	CanExport            Capability = "canExport"

	// Meta capabilities.
	CanViewHistory  Capability = "canViewHistory"
	CanAudit        Capability = "canAudit"
	CanSetRetention Capability = "canSetRetention"

	// Session-scoped capabilities.
	CanPublish  Capability = "canPublish"
	CanModerate Capability = "canModerate"
	CanAssist   Capability = "canAssist"
)

// AllCapabilities lists every known capability in a stable order.
var AllCapabilities = []Capability{
	CanView, CanEdit, CanComment, CanAnnotate, CanDownload, CanPrint,
	CanShare, CanDelete, CanChangePermissions, CanApprove, CanSign, CanExport,
	CanViewHistory, CanAudit, CanSetRetention,
	CanPublish, CanModerate, CanAssist,
}

// Set is an explicit capability bundle. A capability that is missing or
// mapped to false is not granted.
type Set map[Capability]bool

// NewSet returns a Set granting exactly caps.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// FullSet grants every known capability.
func FullSet() Set { return NewSet(AllCapabilities...) }

func (s Set) Has(c Capability) bool { return s[c] }

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c, ok := range s {
		if ok {
			out[c] = true
		}
	}
	return out
}

// Union returns a new Set holding the capabilities of s and o.
func (s Set) Union(o Set) Set {
	out := s.Clone()
	for c, ok := range o {
		if ok {
			out[c] = true
		}
	}
	return out
}

// List returns the granted capabilities sorted by name.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c, ok := range s {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
