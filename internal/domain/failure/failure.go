package failure

import (
	"errors"
	"fmt"
)

// Reason classifies why a request against a process was rejected.
type Reason string

const (
	ReasonNotFound     Reason = "NOT_FOUND"
	ReasonConflict     Reason = "CONFLICT"
	ReasonBadRequest   Reason = "BAD_REQUEST"
	ReasonUnauthorized Reason = "UNAUTHORIZED"
)

// Error is a classified rejection. errors.Is matches on Reason against the sentinels below.
type Error struct {
	Reason  Reason
	Message string
}

var (
	ErrNotFound     = &Error{Reason: ReasonNotFound}
	ErrConflict     = &Error{Reason: ReasonConflict}
	ErrBadRequest   = &Error{Reason: ReasonBadRequest}
	ErrUnauthorized = &Error{Reason: ReasonUnauthorized}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Message == "" || t.Message == e.Message)
}

func NotFound(format string, args ...any) *Error {
	return &Error{Reason: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Reason: ReasonConflict, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Reason: ReasonBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Reason: ReasonUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the reason carried by err, or "" when err is not classified.
func ReasonOf(err error) Reason {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
