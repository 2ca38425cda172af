package store

import (
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// DuplicateKeyError is raised when a write targets a key that is already
// populated. Keys are write-once, so this always indicates a wiring bug in
// the plan rather than a recoverable condition.
type DuplicateKeyError struct {
	Key   string
	Owner string
}

func (e *DuplicateKeyError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("key %q already written (attempted by %s)", e.Key, e.Owner)
	}
	return fmt.Sprintf("key %q already written", e.Key)
}

// NewDuplicateKeyError creates a new DuplicateKeyError.
func NewDuplicateKeyError(key, owner string) *DuplicateKeyError {
	return &DuplicateKeyError{Key: key, Owner: owner}
}

// MissingKeyError is raised when a read targets a key that has not been
// written yet.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("key %q not present in store", e.Key)
}

// NewMissingKeyError creates a new MissingKeyError.
func NewMissingKeyError(key string) *MissingKeyError {
	return &MissingKeyError{Key: key}
}
