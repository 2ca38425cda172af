// Package prompt renders the instruction text sent to completion stages.
//
// A Registry maps prompt keys to text/template templates rendered against
// the stage's input map. Templates reference inputs by store key
// ({{.resume}}); structured values go through the json helper
// ({{json .json_resume}}) so the model sees indented JSON rather than Go
// map syntax. Builtin returns the registry for the standard resume
// optimization stages; Parse registers or replaces templates at runtime.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"text/template"
)

// funcs holds the helpers available to every template.
var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds named prompt templates. Construct with New or Builtin;
// the zero value has no template storage.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{templates: make(map[string]*template.Template)}
}

// Parse compiles text under key, replacing any existing template.
func (r *Registry) Parse(key, text string) error {
	tmpl, err := template.New(key).Funcs(funcs).Parse(text)
	if err != nil {
		return fmt.Errorf("prompt %s: %w", key, err)
	}
	r.mu.Lock()
	r.templates[key] = tmpl
	r.mu.Unlock()
	return nil
}

// Get renders the template under key against context. An unknown key is an
// error so a misconfigured stage fails loudly instead of sending an empty
// prompt to the model.
func (r *Registry) Get(key string, context map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[key]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown prompt key %q", key)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("prompt %s: %w", key, err)
	}
	return buf.String(), nil
}

// Has reports whether key is registered. The plan builder uses this to
// reject plans naming prompts that do not exist.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[key]
	return ok
}

// Keys returns the registered prompt keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for key := range r.templates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
