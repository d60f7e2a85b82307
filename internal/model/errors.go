package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before it reaches storage.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an operation on a stale or deleted id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecurrenceRule marks a recurrence rule that cannot be parsed.
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
	// ErrMalformedWindow marks a query window whose start is after its end.
	ErrMalformedWindow = errors.New("malformed window")
	// ErrStorage marks a failure reported by the persistence collaborator.
	ErrStorage = errors.New("storage error")
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps an error returned by the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NotFound returns an ErrNotFound wrapped with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
