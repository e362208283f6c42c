package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/config"
)

// ErrInvalidOperation is wrapped by Register when an operation cannot be
// registered for a reason other than a duplicate name.
var ErrInvalidOperation = errors.New("dispatch: invalid operation")

// Type names the shape of a parameter or return value.
type Type string

// Parameter and return types. TypeAny skips type checking.
const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeAny     Type = "any"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeAny, "":
		return true
	}
	return false
}

// Accepts reports whether v has the shape of t. JSON decoding shapes
// (float64, []any, map[string]any) and native Go values are both accepted;
// TypeInteger takes a float64 only when it has no fractional part.
func (t Type) Accepts(v any) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		_, ok := config.AsInt(v)
		return ok
	case TypeNumber:
		_, ok := config.AsFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		if v == nil {
			return false
		}
		rt := reflect.TypeOf(v)
		return rt.Kind() == reflect.Map && rt.Key().Kind() == reflect.String
	}
	return false
}

// describe names the JSON shape of v for error messages.
func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32:
		return "number"
	case int, int32, int64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// Param describes one named parameter of an operation.
type Param struct {
	Name        string `json:"name"`
	Type        Type   `json:"type,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Handler executes an operation with validated parameters. A returned error
// is reported to the caller as a failure Result, not a transport error.
type Handler func(ctx context.Context, params Params) (any, error)

// Operation is a named, invocable unit of work registered with a worker.
type Operation struct {
	Name        string
	Description string
	Params      []Param
	Returns     Type
	Handler     Handler
}

// Definition returns the handler-free description of the operation.
func (op Operation) Definition() Definition {
	return Definition{
		Name:        op.Name,
		Description: op.Description,
		Params:      slices.Clone(op.Params),
		Returns:     op.Returns,
	}
}

func (op Operation) validate() error {
	if strings.TrimSpace(op.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidOperation)
	}
	if op.Handler == nil {
		return fmt.Errorf("%w: operation %q has no handler", ErrInvalidOperation, op.Name)
	}
	if !op.Returns.valid() {
		return fmt.Errorf("%w: operation %q: unknown return type %q", ErrInvalidOperation, op.Name, op.Returns)
	}
	seen := make(map[string]bool, len(op.Params))
	for _, p := range op.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: operation %q: parameter name cannot be empty", ErrInvalidOperation, op.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: operation %q: parameter %q declared twice", ErrInvalidOperation, op.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("%w: operation %q: parameter %q has unknown type %q", ErrInvalidOperation, op.Name, p.Name, p.Type)
		}
		if p.Default != nil && !p.Type.Accepts(p.Default) {
			return fmt.Errorf("%w: operation %q: default for %q is not a %s", ErrInvalidOperation, op.Name, p.Name, p.Type)
		}
	}
	return nil
}

// bind checks raw against the declared parameters and fills defaults.
// Absent and null values are treated alike.
func (op Operation) bind(raw map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(op.Params))
	declared := make(map[string]bool, len(op.Params))

	for _, p := range op.Params {
		declared[p.Name] = true
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, &ParameterError{Operation: op.Name, Param: p.Name, Reason: "missing required parameter"}
			}
			if p.Default != nil {
				bound[p.Name] = p.Default
			}
			continue
		}
		if !p.Type.Accepts(v) {
			return nil, &ParameterError{
				Operation: op.Name,
				Param:     p.Name,
				Reason:    fmt.Sprintf("expected %s, got %s", p.Type, describe(v)),
			}
		}
		bound[p.Name] = v
	}

	var unknown []string
	for name := range raw {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ParameterError{Operation: op.Name, Param: unknown[0], Reason: "unknown parameter"}
	}
	return bound, nil
}

// Definition describes an operation without its handler. It is what
// coordinators see when they list a worker's operations.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Returns     Type
}

// InputSchema renders the parameters as a JSON Schema object.
func (d Definition) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{}
		if p.Type != TypeAny && p.Type != "" {
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ParamsFromSchema rebuilds parameters from a JSON Schema object produced by
// InputSchema or by another tool server. Parameters come back sorted by name.
func ParamsFromSchema(schema map[string]any) []Param {
	props, _ := schema["properties"].(map[string]any)
	required := make(map[string]bool)
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		p := Param{Name: name, Type: TypeAny, Required: required[name]}
		if typ, ok := prop["type"].(string); ok && Type(typ).valid() {
			p.Type = Type(typ)
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		p.Default = prop["default"]
		params = append(params, p)
	}
	return params
}

type definitionJSON struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// MarshalJSON encodes the definition in tools/list form.
func (d Definition) MarshalJSON() ([]byte, error) {
	out := definitionJSON{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema(),
	}
	if d.Returns != "" && d.Returns != TypeAny {
		out.OutputSchema = map[string]any{"type": string(d.Returns)}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tools/list entry.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var in definitionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Name = in.Name
	d.Description = in.Description
	d.Params = ParamsFromSchema(in.InputSchema)
	d.Returns = TypeAny
	if typ, ok := in.OutputSchema["type"].(string); ok && Type(typ).valid() {
		d.Returns = Type(typ)
	}
	return nil
}
