package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can branch on the class of failure
// instead of matching message strings.
type Kind string

const (
	Validation Kind = "validation"
	Auth       Kind = "auth"
	Forbidden  Kind = "forbidden"
	NotFound   Kind = "not_found"
	Conflict   Kind = "conflict"
	Server     Kind = "server"
	Network    Kind = "network"
)

// Error is a classified error. Status is the HTTP status that produced it,
// or zero for errors raised locally (validation, conflicts, transport).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it reachable via errors.Unwrap.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps a non-2xx HTTP status to a classified error.
func FromStatus(op string, status int, message string) *Error {
	var kind Kind
	switch status {
	case http.StatusBadRequest:
		kind = Validation
	case http.StatusUnauthorized:
		kind = Auth
	case http.StatusForbidden:
		kind = Forbidden
	case http.StatusNotFound:
		kind = NotFound
	default:
		kind = Server
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Op: op, Message: message, Status: status}
}

// KindOf returns the Kind of err, or the empty Kind if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified with the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
