package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no object exists under the requested id.
	ErrNotFound = errors.New("object not found")

	// ErrTxConflict reports that a transaction read a value that changed
	// before commit. Callers decide whether to retry.
	ErrTxConflict = errors.New("transaction conflict")
)

// NotFoundError wraps ErrNotFound with the offending id.
func NotFoundError(id string) error {
	return fmt.Errorf("object with id %s: %w", id, ErrNotFound)
}
