package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// Error tags an error with the handler operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// NewKind returns an Error of the given sentinel kind.
func NewKind(op string, kind error) error { return &Error{Op: op, Err: kind} }

// Wrap tags err with op, or returns nil when err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// badRequest wraps a validation message as an ErrBadRequest.
func badRequest(op, msg string) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrBadRequest, msg)}
}
