// Package mcperr defines the orchestrator's error taxonomy (spec §7).
package mcperr

import "fmt"

// Code is a taxonomy kind from spec §7. It is carried on TASK_RESPONSE.error_code
// and used by components to decide whether an error is recovered locally,
// surfaced to the caller, or fatal to the connection.
type Code string

const (
	ProtocolViolation Code = "PROTOCOL_VIOLATION"
	FrameTooLarge     Code = "FRAME_TOO_LARGE"
	AuthRequired      Code = "AUTH_REQUIRED"
	PermissionDenied  Code = "PERMISSION_DENIED"
	UnknownRecipient  Code = "UNKNOWN_RECIPIENT"
	RouteUnavailable  Code = "ROUTE_UNAVAILABLE"
	Backpressure      Code = "BACKPRESSURE"
	AgentUnavailable  Code = "AGENT_UNAVAILABLE"
	Timeout           Code = "TIMEOUT"
	StreamGap         Code = "STREAM_GAP"
	BudgetExceeded    Code = "BUDGET_EXCEEDED"
	RateLimited       Code = "RATE_LIMITED"
	DepthExceeded     Code = "DEPTH_EXCEEDED"
	Internal          Code = "INTERNAL"
)

// FatalToConnection reports whether this code must close the owning connection,
// per spec §7's propagation policy.
func (c Code) FatalToConnection() bool {
	switch c {
	case ProtocolViolation, FrameTooLarge, AuthRequired:
		return true
	}
	return false
}

// Error wraps an underlying cause with a taxonomy code.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap creates an *Error wrapping cause under the given code.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// CodeOf extracts the taxonomy Code from err, defaulting to Internal
// if err is nil or not an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
