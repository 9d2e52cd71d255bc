package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrStorage      = errors.New("storage error")
	ErrConflict     = errors.New("unique constraint conflict")
	ErrInvalidInput = errors.New("empty username or test id")
)

// StorageError wraps an unexpected persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
