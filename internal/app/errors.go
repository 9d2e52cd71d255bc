package service

import "errors"

// Sentinel kinds for service errors.
var (
	// ErrNotAuthorized means no credential is on file; the caller should send
	// the user through the authorization flow.
	ErrNotAuthorized = errors.New("not authorized")
	ErrInvalidInput  = errors.New("invalid input")
)
