package domain

import "errors"

var (
	ErrCapacityExceeded       = errors.New("session capacity exceeded")
	ErrSessionEnded           = errors.New("session ended")
	ErrInvalidTransition      = errors.New("invalid session status transition")
	ErrNotParticipant         = errors.New("not a participant of this session")
	ErrNotFound               = errors.New("not found")
	ErrStaleUpdate            = errors.New("stale update")
	ErrNegotiationFailed      = errors.New("peer negotiation failed")
	ErrChannelUnavailable     = errors.New("signaling channel unavailable")
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrRecordingDisabled      = errors.New("recording disabled for session")
)
