// Package domain contains the collaboration entities and their invariants.
// No transport or locking here.
package domain

import (
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/permission"
)

const (
	MaxDisplayNameLen = 64
	MaxParticipantID  = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrParticipantIDEmpty = errors.New("participant id empty")
)

type ParticipantID string

type Role string

const (
	RoleOwner       Role = "owner"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
	RoleAssistant   Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleModerator, RoleParticipant, RoleViewer, RoleAssistant:
		return true
	}
	return false
}

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

type Viewport struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Zoom   float64 `json:"zoom,omitempty"`
}

type Location struct {
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Viewport      *Viewport `json:"viewport,omitempty"`
	ActiveElement string    `json:"activeElement,omitempty"`
}

// Participant is one member of a session. Permissions is the effective set
// at snapshot time and is informational only; checks always go through the
// session grants.
type Participant struct {
	ID          ParticipantID  `json:"id"`
	DisplayName string         `json:"displayName"`
	Role        Role           `json:"role"`
	Groups      []string       `json:"groups,omitempty"`
	Status      Status         `json:"status"`
	Permissions permission.Set `json:"permissions,omitempty"`
	Media       MediaState     `json:"media"`
	Location    *Location      `json:"location,omitempty"`
	JoinedAt    time.Time      `json:"joinedAt"`
}

// NewParticipant validates identity fields and returns an online participant.
func NewParticipant(id ParticipantID, displayName string, role Role) (*Participant, error) {
	if id == "" {
		return nil, ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantID {
		id = id[:MaxParticipantID]
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if !role.Valid() {
		role = RoleParticipant
	}
	return &Participant{ID: id, DisplayName: displayName, Role: role, Status: StatusOnline}, nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

// Subject is the permission subject for p.
func (p Participant) Subject() permission.Subject {
	return permission.Subject{ID: string(p.ID), Role: string(p.Role), Groups: p.Groups}
}

// Clone deep-copies the mutable parts of p.
func (p Participant) Clone() Participant {
	out := p
	out.Permissions = p.Permissions.Clone()
	if p.Groups != nil {
		out.Groups = append([]string(nil), p.Groups...)
	}
	if p.Location != nil {
		loc := *p.Location
		if p.Location.Viewport != nil {
			vp := *p.Location.Viewport
			loc.Viewport = &vp
		}
		out.Location = &loc
	}
	return out
}
