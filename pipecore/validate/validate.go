// Package validate checks model-produced payloads against declared shapes
// before they are allowed into the store.
//
// A shape names what a stage promised to produce: a mapping with required
// keys, a sequence whose elements all satisfy one element shape, or plain
// text. Checks never coerce or default; a payload that fails its shape is
// rejected outright, because a downstream stage trusting an unvalidated
// structure would propagate malformed or fabricated data indefinitely.
package validate

import (
	"fmt"
)

// Kind classifies the top-level type a shape expects.
type Kind string

const (
	// KindText expects a plain string.
	KindText Kind = "text"
	// KindMapping expects a JSON object.
	KindMapping Kind = "mapping"
	// KindSequence expects a JSON array.
	KindSequence Kind = "sequence"
)

// Rule names for violation reporting.
const (
	RuleTypeMismatch = "type_mismatch"
	RuleMissingKey   = "missing_required_key"
	RuleTooFewItems  = "too_few_items"
	RuleUnknownKind  = "unknown_shape_kind"
)

// Shape describes the structure a value must satisfy.
type Shape struct {
	Kind Kind `koanf:"kind" json:"kind"`

	// RequiredKeys lists mapping keys that must be present.
	RequiredKeys []string `koanf:"required" json:"required,omitempty"`

	// Fields optionally constrains the shape of individual mapping values.
	Fields map[string]*Shape `koanf:"fields" json:"fields,omitempty"`

	// Element constrains every element of a sequence. Nil accepts any
	// element.
	Element *Shape `koanf:"element" json:"element,omitempty"`

	// MinItems is the minimum sequence length.
	MinItems int `koanf:"min_items" json:"min_items,omitempty"`
}

// Text returns a shape accepting any string.
func Text() *Shape {
	return &Shape{Kind: KindText}
}

// Mapping returns a shape accepting an object carrying all required keys.
func Mapping(requiredKeys ...string) *Shape {
	return &Shape{Kind: KindMapping, RequiredKeys: requiredKeys}
}

// SequenceOf returns a shape accepting an array of at least minItems
// elements, each satisfying element.
func SequenceOf(element *Shape, minItems int) *Shape {
	return &Shape{Kind: KindSequence, Element: element, MinItems: minItems}
}

// WithField constrains the value under key to a sub-shape. Returns the
// receiver for chaining during shape construction.
func (s *Shape) WithField(key string, sub *Shape) *Shape {
	if s.Fields == nil {
		s.Fields = make(map[string]*Shape)
	}
	s.Fields[key] = sub
	return s
}

// RuleError reports one violated shape rule, naming the rule and where in
// the value it was violated.
type RuleError struct {
	Rule   string
	Path   string
	Detail string
}

func (e *RuleError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %q: %s", e.Rule, e.Path, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

// Check validates value against shape. A nil shape accepts anything.
func Check(value any, shape *Shape) error {
	if shape == nil {
		return nil
	}
	return check(value, shape, "")
}

func check(value any, shape *Shape, path string) error {
	switch shape.Kind {
	case KindText:
		if _, ok := value.(string); !ok {
			return typeMismatch(path, KindText, value)
		}
		return nil

	case KindMapping:
		m, ok := value.(map[string]any)
		if !ok {
			return typeMismatch(path, KindMapping, value)
		}
		for _, key := range shape.RequiredKeys {
			if _, present := m[key]; !present {
				return &RuleError{
					Rule:   RuleMissingKey,
					Path:   path,
					Detail: fmt.Sprintf("mapping missing required key %q", key),
				}
			}
		}
		for key, sub := range shape.Fields {
			v, present := m[key]
			if !present {
				continue // absence is governed by RequiredKeys
			}
			if err := check(v, sub, joinPath(path, key)); err != nil {
				return err
			}
		}
		return nil

	case KindSequence:
		items, ok := asSequence(value)
		if !ok {
			return typeMismatch(path, KindSequence, value)
		}
		if len(items) < shape.MinItems {
			return &RuleError{
				Rule:   RuleTooFewItems,
				Path:   path,
				Detail: fmt.Sprintf("sequence has %d elements, at least %d required", len(items), shape.MinItems),
			}
		}
		if shape.Element != nil {
			for i, item := range items {
				elemPath := fmt.Sprintf("%s[%d]", path, i)
				if err := check(item, shape.Element, elemPath); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return &RuleError{
			Rule:   RuleUnknownKind,
			Path:   path,
			Detail: fmt.Sprintf("shape kind %q is not recognized", shape.Kind),
		}
	}
}

func asSequence(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, true
	default:
		return nil, false
	}
}

func typeMismatch(path string, want Kind, got any) error {
	return &RuleError{
		Rule:   RuleTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, describe(got)),
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func describe(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "text"
	case map[string]any:
		return "mapping"
	case []any, []map[string]any:
		return "sequence"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
