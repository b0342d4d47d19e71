package storage

import (
	"errors"
	"fmt"
)

// Kind classifies every failure surfaced by the storage layer.
type Kind string

const (
	KindInvalidName   Kind = "InvalidName"
	KindNotFound      Kind = "NotFound"
	KindAlreadyExists Kind = "AlreadyExists"
	KindNotEmpty      Kind = "NotEmpty"
	KindHasDependents Kind = "HasDependents"
	KindConfigMissing Kind = "ConfigMissing"
	KindUnavailable   Kind = "Unavailable"
)

// Sentinels so callers can write errors.Is(err, storage.ErrNotFound).
var (
	ErrInvalidName   = &Error{Kind: KindInvalidName}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrAlreadyExists = &Error{Kind: KindAlreadyExists}
	ErrNotEmpty      = &Error{Kind: KindNotEmpty}
	ErrHasDependents = &Error{Kind: KindHasDependents}
	ErrConfigMissing = &Error{Kind: KindConfigMissing}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

// Error is the structured failure returned by gateways, the resolver and the
// deletion orchestrator. Dependents is only set for KindHasDependents.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Dependents []string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so the package sentinels compare equal to any error of
// the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Errorf builds an *Error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err. Errors outside the taxonomy are treated as
// KindUnavailable; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnavailable
}

// DependentsOf returns the blocking attachment names carried by err, if any.
func DependentsOf(err error) []string {
	var se *Error
	if errors.As(err, &se) {
		return se.Dependents
	}
	return nil
}

// MessageOf returns the human readable message of err without the op prefix.
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
