package stage

import (
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// MissingInputError is raised when a declared input key is absent from the
// store at invocation time. It is surfaced immediately and never retried;
// when it fires, none of the stage's outputs have been written.
type MissingInputError struct {
	Stage string
	Key   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("stage %s requires input key %q which is not in the store", e.Stage, e.Key)
}

// NewMissingInputError creates a new MissingInputError.
func NewMissingInputError(stage, key string) *MissingInputError {
	return &MissingInputError{Stage: stage, Key: key}
}

// MalformedOutputError is raised when a capability's returned value fails
// the stage's declared output shape. The violated rule is named; the value
// is never coerced or defaulted, and nothing is written to the store.
type MalformedOutputError struct {
	Stage string
	Key   string
	Rule  string
	Cause error
}

func (e *MalformedOutputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s produced malformed output for %q (%s): %v", e.Stage, e.Key, e.Rule, e.Cause)
	}
	return fmt.Sprintf("stage %s produced malformed output for %q (%s)", e.Stage, e.Key, e.Rule)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Cause
}

// NewMalformedOutputError creates a new MalformedOutputError.
func NewMalformedOutputError(stage, key, rule string, cause error) *MalformedOutputError {
	return &MalformedOutputError{Stage: stage, Key: key, Rule: rule, Cause: cause}
}

// Rule names used when output decoding fails before shape checking.
const (
	RuleInvalidJSON      = "invalid_json"
	RuleMissingOutputKey = "missing_output_key"
)
