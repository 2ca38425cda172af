// Package capability defines the boundary between the pipeline and its
// external collaborators: the text-completion service and the document
// source. The core treats both as opaque functions; everything it knows
// about them is in this package.
package capability

import (
	"context"
	"fmt"
	"time"
)

// CompletionProvider is the interface for text-completion backends. The
// returned text is expected to be JSON-shaped for structured stages, but
// parsing and validation are the caller's job; a parse failure is never a
// provider error.
type CompletionProvider interface {
	Complete(ctx context.Context, model string, prompt string, options map[string]any) (string, error)
}

// DocumentSource is the interface for raw document access. It returns
// extracted text only; format interpretation ends here.
type DocumentSource interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ProviderError is raised when the completion backend itself fails.
type ProviderError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Cause: cause}
}

// TimeoutError is raised when a capability call exceeds its configured
// deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Timeout: timeout}
}

// NotFoundError is raised when a document reference does not resolve.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.Ref)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(ref string) *NotFoundError {
	return &NotFoundError{Ref: ref}
}

// AccessError is raised when a document exists but cannot be read or
// decoded.
type AccessError struct {
	Ref   string
	Cause error
}

func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document %q not readable: %v", e.Ref, e.Cause)
	}
	return fmt.Sprintf("document %q not readable", e.Ref)
}

func (e *AccessError) Unwrap() error {
	return e.Cause
}

// NewAccessError creates a new AccessError.
func NewAccessError(ref string, cause error) *AccessError {
	return &AccessError{Ref: ref, Cause: cause}
}
