// Package sdkerr defines the error kinds shared by every devteam subsystem.
//
// Every error carries a Kind so callers can branch with errors.Is against
// the sentinel values (ErrScopeViolation, ErrTimeout, ...) without caring
// which package produced it. Code and Details travel to API surfaces
// through ToMap.
package sdkerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindTaskExecution    Kind = "task_execution"
	KindMCPServer        Kind = "mcp_server"
	KindAuthentication   Kind = "authentication"
	KindScopeViolation   Kind = "scope_violation"
	KindAgentUnavailable Kind = "agent_unavailable"
	KindDatabase         Kind = "database"
	KindCommunication    Kind = "communication"
	KindValidation       Kind = "validation"
	KindRateLimit        Kind = "rate_limit"
	KindTimeout          Kind = "timeout"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrTaskExecution    = &Error{Kind: KindTaskExecution}
	ErrMCPServer        = &Error{Kind: KindMCPServer}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrScopeViolation   = &Error{Kind: KindScopeViolation}
	ErrAgentUnavailable = &Error{Kind: KindAgentUnavailable}
	ErrDatabase         = &Error{Kind: KindDatabase}
	ErrCommunication    = &Error{Kind: KindCommunication}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrRateLimit        = &Error{Kind: KindRateLimit}
	ErrTimeout          = &Error{Kind: KindTimeout}
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail returns e after setting a detail key. Useful when chaining
// from a constructor.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCode sets the machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// ToMap renders the error for JSON responses. The "error" key holds the
// code when one is set, otherwise the kind.
func (e *Error) ToMap() map[string]any {
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"error":   code,
		"message": e.Error(),
		"details": details,
	}
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, format, args...)
}

func TaskExecution(format string, args ...any) *Error {
	return New(KindTaskExecution, format, args...)
}

func MCPServer(format string, args ...any) *Error {
	return New(KindMCPServer, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return New(KindAuthentication, format, args...)
}

func ScopeViolation(format string, args ...any) *Error {
	return New(KindScopeViolation, format, args...)
}

func AgentUnavailable(format string, args ...any) *Error {
	return New(KindAgentUnavailable, format, args...)
}

func Database(format string, args ...any) *Error {
	return New(KindDatabase, format, args...)
}

func Communication(format string, args ...any) *Error {
	return New(KindCommunication, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func RateLimit(format string, args ...any) *Error {
	return New(KindRateLimit, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}
