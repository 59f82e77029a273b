// Package tools holds the fixed set of GTM tools and dispatches calls to
// them by name. Every call ends in a Response envelope; handler errors
// never escape as panics.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Handler runs one tool. Args have already passed required-field checks.
type Handler func(ctx context.Context, args Args) (any, error)

type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Required lists the schema's required properties.
func (t *Tool) Required() []string {
	req, _ := t.InputSchema["required"].([]string)
	return req
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}
	if t.InputSchema == nil {
		t.InputSchema = Object(nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("duplicate tool %q", name)
	}
	t.Name = name
	r.tools[name] = &t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Object builds a JSON schema for an object with the given properties.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// Args is the decoded argument object of a call.
type Args map[string]any

// ParseArgs decodes a raw JSON argument object. Empty input is an empty
// object.
func ParseArgs(raw json.RawMessage) (Args, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return Args{}, nil
	}
	var a Args
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return strings.TrimSpace(v)
}

// Decode copies the arguments into a struct through their JSON form.
func (a Args) Decode(v any) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (a Args) check(t *Tool) error {
	props, _ := t.InputSchema["properties"].(map[string]any)
	for _, field := range t.Required() {
		v, ok := a[field]
		if !ok || v == nil {
			return &InvalidArgumentsError{Tool: t.Name, Field: field, Reason: "is required"}
		}
		prop, _ := props[field].(map[string]any)
		switch prop["type"] {
		case "string":
			s, ok := v.(string)
			if !ok {
				return &InvalidArgumentsError{Tool: t.Name, Field: field, Reason: "must be a string"}
			}
			if strings.TrimSpace(s) == "" {
				return &InvalidArgumentsError{Tool: t.Name, Field: field, Reason: "is required"}
			}
		case "array":
			if k := reflect.ValueOf(v).Kind(); k != reflect.Slice && k != reflect.Array {
				return &InvalidArgumentsError{Tool: t.Name, Field: field, Reason: "must be an array"}
			}
		}
	}
	return nil
}
