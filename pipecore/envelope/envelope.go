// Package envelope provides the chainable failure value passed up through
// orchestration layers.
//
// Every layer that observes a child failure wraps it with its own identity
// before returning it, so the failing layer is unambiguous from the printed
// chain alone: "publisher -> draft_writer: provider unavailable". No layer
// may catch an envelope and downgrade it; the only designed partial-success
// path is the revision loop's exhausted finalize, which is not an error.
package envelope

import (
	"strings"
)

// Envelope wraps a child error with the identity of the layer that observed
// it. Envelopes nest, forming a chain of custody from the outermost
// orchestrator down to the leaf failure.
type Envelope struct {
	Identity string
	Inner    error
}

// Wrap tags err with the given identity. Wrapping nil returns nil so call
// sites can wrap unconditionally on their error paths.
func Wrap(identity string, err error) *Envelope {
	if err == nil {
		return nil
	}
	return &Envelope{Identity: identity, Inner: err}
}

// Error renders the full chain as "outer -> middle -> inner: message".
func (e *Envelope) Error() string {
	var b strings.Builder
	cur := e
	for {
		b.WriteString(cur.Identity)
		next, ok := cur.Inner.(*Envelope)
		if !ok {
			break
		}
		b.WriteString(" -> ")
		cur = next
	}
	if cur.Inner != nil {
		b.WriteString(": ")
		b.WriteString(cur.Inner.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped error so errors.Is and errors.As traverse the
// whole chain.
func (e *Envelope) Unwrap() error {
	return e.Inner
}

// Chain returns the identities from the outermost layer inward.
func (e *Envelope) Chain() []string {
	var ids []string
	cur := e
	for {
		ids = append(ids, cur.Identity)
		next, ok := cur.Inner.(*Envelope)
		if !ok {
			return ids
		}
		cur = next
	}
}

// Leaf returns the innermost non-envelope error, the original failure the
// chain was built around.
func (e *Envelope) Leaf() error {
	cur := e
	for {
		next, ok := cur.Inner.(*Envelope)
		if !ok {
			return cur.Inner
		}
		cur = next
	}
}
