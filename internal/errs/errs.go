// Package errs carries error kinds across package boundaries so the
// stream layer can map failures onto command.failed envelopes without
// string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindMalformed
	KindUnauthenticated
	KindNotFound
	KindConflict
	KindInvalid
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Msg is the client-facing text placed into
// command.failed; Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NotFound builds the canonical "<entity> not found" error.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Msg: entity + " not found"}
}

func Malformed(msg string) error {
	return &Error{Kind: KindMalformed, Msg: msg}
}

func Unauthenticated(msg string) error {
	return &Error{Kind: KindUnauthenticated, Msg: msg}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Invalidf(format string, args ...any) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

func Fatal(msg string, err error) error {
	return &Error{Kind: KindFatal, Msg: msg, Err: err}
}

// Invalid wraps err as KindInvalid keeping its text, used to surface
// validation helpers that return plain errors.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInvalid, Err: err}
}
