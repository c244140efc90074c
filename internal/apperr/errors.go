// Package apperr defines the error kinds shared by every domain package.
// Domain errors wrap one of these so the transport layer can map them
// to a status code with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadGateway   = errors.New("bad gateway")
)

// Kind returns the kind sentinel wrapped by err, or nil for unexpected errors.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrBadRequest, ErrConflict, ErrForbidden, ErrUnauthorized, ErrBadGateway} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Error is a domain error carrying a client-facing message and its kind.
type Error struct {
	kind error
	msg  string
}

// New returns a domain error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }
