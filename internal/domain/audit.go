package domain

import "time"

// AuditEntry records one attempted action on a session.
type AuditEntry struct {
	At      time.Time     `json:"at"`
	Actor   ParticipantID `json:"actor"`
	Action  string        `json:"action"`
	Allowed bool          `json:"allowed"`
	Detail  string        `json:"detail,omitempty"`
}
