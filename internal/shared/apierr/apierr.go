package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure the client surfaces to its callers.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindTransport    Kind = "transport"
	KindNotFound     Kind = "not_found"
	KindNotReady     Kind = "not_ready"
	KindTimeout      Kind = "timeout"
	KindExpired      Kind = "expired"
	KindCancelled    Kind = "cancelled"
	KindTicketFailed Kind = "ticket_failed"
)

// Sentinels for errors.Is matching. An *Error matches the sentinel of its Kind.
var (
	ErrValidation   = errors.New("validation error")
	ErrTransport    = errors.New("transport error")
	ErrNotFound     = errors.New("not found")
	ErrNotReady     = errors.New("not ready")
	ErrTimeout      = errors.New("timeout")
	ErrExpired      = errors.New("expired")
	ErrCancelled    = errors.New("cancelled")
	ErrTicketFailed = errors.New("ticket failed")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindTransport:    ErrTransport,
	KindNotFound:     ErrNotFound,
	KindNotReady:     ErrNotReady,
	KindTimeout:      ErrTimeout,
	KindExpired:      ErrExpired,
	KindCancelled:    ErrCancelled,
	KindTicketFailed: ErrTicketFailed,
}

// Error is the single error shape returned across the client boundary.
// Message is human readable and sourced from the backend when it sent one.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Details    []string
	StatusCode int
	CanRetry   bool
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation is shorthand for a client-side validation failure.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// KindOf extracts the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the human-readable message of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
