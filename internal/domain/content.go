package domain

import (
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/permission"
)

var ErrContentInvalid = errors.New("shared content invalid")

type ContentType string

const (
	ContentDocument     ContentType = "document"
	ContentWhiteboard   ContentType = "whiteboard"
	ContentPresentation ContentType = "presentation"
	ContentFile         ContentType = "file"
	ContentLink         ContentType = "link"
)

// ContentPermissions is the permission subset attached to a shared item.
type ContentPermissions struct {
	Viewers    []ParticipantID `json:"viewers,omitempty"`
	Editors    []ParticipantID `json:"editors,omitempty"`
	Commenters []ParticipantID `json:"commenters,omitempty"`
	Public     bool            `json:"public"`
}

// SharedContent is a reference to an item held by the external document
// manager. Removal sets the tombstone fields; entries are never deleted.
type SharedContent struct {
	ID          string             `json:"id"`
	Type        ContentType        `json:"type"`
	Title       string             `json:"title"`
	OwnerID     ParticipantID      `json:"ownerId"`
	Permissions ContentPermissions `json:"permissions"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
	SharedAt    time.Time          `json:"sharedAt"`
	Removed     bool               `json:"removed,omitempty"`
	RemovedAt   *time.Time         `json:"removedAt,omitempty"`
	RemovedBy   ParticipantID      `json:"removedBy,omitempty"`
}

func (c SharedContent) Validate() error {
	if c.Type == "" || c.Title == "" {
		return ErrContentInvalid
	}
	return nil
}

// Target maps the content's permission subset onto grants. Editors also
// comment and view, commenters also view. A public item is viewable by every
// role.
func (c SharedContent) Target() permission.Target {
	var grants []permission.Grant
	add := func(ids []ParticipantID, set permission.Set) {
		for _, id := range ids {
			grants = append(grants, permission.Grant{
				Scope:        permission.ScopeUser,
				Principal:    string(id),
				Capabilities: set,
			})
		}
	}
	add(c.Permissions.Editors, permission.NewSet(permission.CanView, permission.CanComment, permission.CanAnnotate, permission.CanEdit))
	add(c.Permissions.Commenters, permission.NewSet(permission.CanView, permission.CanComment, permission.CanAnnotate))
	add(c.Permissions.Viewers, permission.NewSet(permission.CanView))
	if c.Permissions.Public {
		for _, r := range []Role{RoleOwner, RoleModerator, RoleParticipant, RoleViewer, RoleAssistant} {
			grants = append(grants, permission.Grant{
				Scope:        permission.ScopeRole,
				Principal:    string(r),
				Capabilities: permission.NewSet(permission.CanView),
			})
		}
	}
	return permission.Target{OwnerID: string(c.OwnerID), Grants: grants}
}

func (c SharedContent) Clone() SharedContent {
	out := c
	out.Permissions.Viewers = append([]ParticipantID(nil), c.Permissions.Viewers...)
	out.Permissions.Editors = append([]ParticipantID(nil), c.Permissions.Editors...)
	out.Permissions.Commenters = append([]ParticipantID(nil), c.Permissions.Commenters...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.RemovedAt != nil {
		at := *c.RemovedAt
		out.RemovedAt = &at
	}
	return out
}
