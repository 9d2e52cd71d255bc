package objectstore

import "errors"

// Sentinel kinds for mirror errors.
var (
	ErrInvalidConfig = errors.New("invalid object store configuration")
	ErrFetchImage    = errors.New("fetch badge image")
	ErrUpload        = errors.New("upload badge image")
)
