// Package fault classifies errors into the few kinds the HTTP layer and the
// turn orchestrator act on: bad input, a failing upstream provider, a missing
// resource, or an internal bug.
package fault

import (
	"errors"
	"net/http"
)

// Kind is the class of an error.
type Kind string

const (
	KindInternal        Kind = "internal"
	KindInput           Kind = "input"
	KindProvider        Kind = "provider"
	KindResourceMissing Kind = "resource_missing"
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. An error that already carries a kind keeps it, so
// the innermost classification wins. Wrap(nil, k) is nil.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// Input returns a KindInput error with msg.
func Input(msg string) error {
	return &Error{Kind: KindInput, Err: errors.New(msg)}
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusBadGateway
	case KindResourceMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
