// Package errs defines the single error type surfaced across the engine's
// public boundary, following the teacher's plain fmt.Errorf("%w") wrapping
// idiom rather than a third-party errors package.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure the way a caller needs to branch on it.
type Kind int

const (
	AuthRequired Kind = iota
	NotAvailable
	Timeout
	InvalidArgument
	TransportError
	ParseError
)

func (k Kind) String() string {
	switch k {
	case AuthRequired:
		return "auth_required"
	case NotAvailable:
		return "not_available"
	case Timeout:
		return "timeout"
	case InvalidArgument:
		return "invalid_argument"
	case TransportError:
		return "transport_error"
	case ParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Sentinel values so callers can do errors.Is(err, errs.ErrTimeout) without
// reaching into the Kind field directly.
var (
	ErrAuthRequired    = errors.New("auth required")
	ErrNotAvailable    = errors.New("not available")
	ErrTimeout         = errors.New("timeout")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("transport error")
	ErrParse           = errors.New("parse error")
)

var sentinelByKind = map[Kind]error{
	AuthRequired:    ErrAuthRequired,
	NotAvailable:    ErrNotAvailable,
	Timeout:         ErrTimeout,
	InvalidArgument: ErrInvalidArgument,
	TransportError:  ErrTransport,
	ParseError:      ErrParse,
}

// Error is the one error type the engine returns to callers. Cause is
// always wrapped, never swallowed, so errors.Unwrap keeps working.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, errs.ErrTimeout) (and the other sentinels) work
// against a *Error without callers needing to inspect Kind directly.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinelByKind[e.Kind]
	if !ok {
		return false
	}
	return errors.Is(sentinel, target)
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Cause: errors.New(msg)}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to an existing cause, preserving it for errors.Unwrap.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf("%s: %w", msg, cause)}
}
