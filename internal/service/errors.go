package service

import (
	"errors"
	"fmt"

	"github.com/nebari-dev/labgate/internal/store"
)

// ErrNotFound indicates the requested resource was not found.
var ErrNotFound = errors.New("not found")

// ValidationError represents a bad-request condition (HTTP 400).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError represents a conflict condition (HTTP 409).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// notFound wraps ErrNotFound with the missing entity.
func notFound(entity string, id uint) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}

// lookupErr maps a store lookup error onto the service taxonomy.
func lookupErr(err error, entity string, id uint) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("get %s %d: %w", entity, id, err)
}

func requireID(field string, id uint) error {
	if id == 0 {
		return invalid("%s must be a positive integer", field)
	}
	return nil
}
