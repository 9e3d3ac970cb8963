package domain

import (
	"time"

	"github.com/dkeye/Huddle/internal/permission"
)

// DefaultRoleCapabilities is the capability bundle each role receives when a
// session is created. Owners are not listed: ownership passes every check.
var DefaultRoleCapabilities = map[Role]permission.Set{
	RoleModerator: permission.NewSet(
		permission.CanView, permission.CanEdit, permission.CanComment, permission.CanAnnotate,
		permission.CanDownload, permission.CanShare, permission.CanDelete,
		permission.CanChangePermissions, permission.CanViewHistory, permission.CanAudit,
		permission.CanPublish, permission.CanModerate, permission.CanExport,
	),
	RoleParticipant: permission.NewSet(
		permission.CanView, permission.CanComment, permission.CanAnnotate,
		permission.CanDownload, permission.CanShare, permission.CanViewHistory,
		permission.CanPublish,
	),
	RoleViewer: permission.NewSet(permission.CanView),
	RoleAssistant: permission.NewSet(
		permission.CanView, permission.CanViewHistory, permission.CanAssist,
	),
}

// DefaultGrants returns fresh role-level grants for a new session.
func DefaultGrants(now time.Time) []permission.Grant {
	roles := []Role{RoleModerator, RoleParticipant, RoleViewer, RoleAssistant}
	out := make([]permission.Grant, 0, len(roles))
	for _, r := range roles {
		out = append(out, permission.Grant{
			Scope:        permission.ScopeRole,
			Principal:    string(r),
			Capabilities: DefaultRoleCapabilities[r].Clone(),
			GrantedBy:    "system",
			GrantedAt:    now,
		})
	}
	return out
}
