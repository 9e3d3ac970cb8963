package protocol

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
)

type Code string

const (
	CodePermissionDenied Code = "permission_denied"
	CodeCapacityExceeded Code = "capacity_exceeded"
	CodeSessionEnded     Code = "session_ended"
	CodeNotParticipant   Code = "not_participant"
	CodeNotFound         Code = "not_found"
	CodeInvalid          Code = "invalid"
	CodeStale            Code = "stale_update"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal"
)

var ErrRateLimited = errors.New("rate limited")

// Error is the payload of an error frame sent back to the client whose
// request failed.
type Error struct {
	Code       Code                  `json:"code"`
	Message    string                `json:"message"`
	Capability permission.Capability `json:"capability,omitempty"`
	Request    Type                  `json:"request,omitempty"`
}

func (e *Error) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Capability)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code back onto the sentinel so remote failures match
// errors.Is like local ones.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodePermissionDenied:
		return permission.ErrDenied
	case CodeCapacityExceeded:
		return domain.ErrCapacityExceeded
	case CodeSessionEnded:
		return domain.ErrSessionEnded
	case CodeNotParticipant:
		return domain.ErrNotParticipant
	case CodeNotFound:
		return domain.ErrNotFound
	case CodeStale:
		return domain.ErrStaleUpdate
	case CodeRateLimited:
		return ErrRateLimited
	}
	return nil
}

// ErrorFrom classifies err into a wire error.
func ErrorFrom(err error) *Error {
	out := &Error{Code: CodeInternal, Message: err.Error()}
	var denied *permission.DeniedError
	switch {
	case errors.As(err, &denied):
		out.Code = CodePermissionDenied
		out.Capability = denied.Capability
	case errors.Is(err, permission.ErrDenied):
		out.Code = CodePermissionDenied
	case errors.Is(err, domain.ErrCapacityExceeded):
		out.Code = CodeCapacityExceeded
	case errors.Is(err, domain.ErrSessionEnded):
		out.Code = CodeSessionEnded
	case errors.Is(err, domain.ErrNotParticipant):
		out.Code = CodeNotParticipant
	case errors.Is(err, domain.ErrNotFound):
		out.Code = CodeNotFound
	case errors.Is(err, domain.ErrStaleUpdate):
		out.Code = CodeStale
	case errors.Is(err, ErrRateLimited):
		out.Code = CodeRateLimited
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownType),
		errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrChatEmpty),
		errors.Is(err, domain.ErrChatTooLong), errors.Is(err, domain.ErrEmojiEmpty),
		errors.Is(err, domain.ErrContentInvalid), errors.Is(err, domain.ErrInsightInvalid),
		errors.Is(err, domain.ErrDisplayNameEmpty), errors.Is(err, domain.ErrDisplayNameTooLong),
		errors.Is(err, domain.ErrRecordingDisabled):
		out.Code = CodeInvalid
	}
	return out
}

// ErrorMessage builds an error frame answering a request of type req.
func ErrorMessage(sid domain.SessionID, req Type, err error) Message {
	m := New(TypeError, sid)
	m.Error = ErrorFrom(err)
	m.Error.Request = req
	return m
}
