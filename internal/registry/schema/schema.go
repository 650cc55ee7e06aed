// Package schema describes the configuration accepted by a profile or
// policy type and validates specs against it.
//
// Descriptors are plain data. Validate compiles a descriptor into an OpenAPI
// schema and checks the spec with kin-openapi.
//
// Import Path: fleetd.io/fleetd/internal/registry/schema
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Type is a field type name as shown by introspection.
type Type string

const (
	Integer Type = "Integer"
	String  Type = "String"
	Number  Type = "Number"
	Boolean Type = "Boolean"
	List    Type = "List"
	Map     Type = "Map"
)

// ItemKey is the Schema key holding a List's item descriptor.
const ItemKey = "*"

// Field describes one configuration key.
type Field struct {
	Type        Type
	Description string
	Required    bool
	// Default is shown by introspection when non-nil.
	Default any
	// Schema holds the keys of a Map, or the item descriptor of a List
	// under ItemKey.
	Schema Schema
}

// Schema maps configuration keys to their descriptors.
type Schema map[string]Field

// Item returns a List item descriptor keyed for Field.Schema.
func Item(f Field) Schema {
	return Schema{ItemKey: f}
}

// Describe renders the introspection document: {"spec": {...}}.
func (s Schema) Describe() map[string]any {
	return map[string]any{"spec": s.describe()}
}

func (s Schema) describe() map[string]any {
	out := make(map[string]any, len(s))
	for key, f := range s {
		d := map[string]any{
			"type":        string(f.Type),
			"description": f.Description,
			"required":    f.Required,
		}
		if f.Default != nil {
			d["default"] = f.Default
		}
		if len(f.Schema) > 0 {
			d["schema"] = f.Schema.describe()
		}
		out[key] = d
	}
	return out
}

// OpenAPI compiles the descriptor into a closed object schema.
func (s Schema) OpenAPI() *openapi3.Schema {
	obj := openapi3.NewObjectSchema()
	if obj.Properties == nil {
		obj.Properties = make(openapi3.Schemas, len(s))
	}
	closed := false
	obj.AdditionalProperties = openapi3.AdditionalProperties{Has: &closed}

	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f := s[key]
		obj.Properties[key] = openapi3.NewSchemaRef("", f.openAPI())
		if f.Required && f.Default == nil {
			obj.Required = append(obj.Required, key)
		}
	}
	return obj
}

func (f Field) openAPI() *openapi3.Schema {
	var out *openapi3.Schema
	switch f.Type {
	case Integer:
		out = openapi3.NewIntegerSchema()
	case String:
		out = openapi3.NewStringSchema()
	case Number:
		out = openapi3.NewFloat64Schema()
	case Boolean:
		out = openapi3.NewBoolSchema()
	case List:
		out = openapi3.NewArraySchema()
		if item, ok := f.Schema[ItemKey]; ok {
			out.Items = openapi3.NewSchemaRef("", item.openAPI())
		}
	case Map:
		if len(f.Schema) > 0 {
			out = f.Schema.OpenAPI()
		} else {
			out = openapi3.NewObjectSchema()
		}
	default:
		out = &openapi3.Schema{}
	}
	out.Description = f.Description
	if !f.Required {
		out.Nullable = true
	}
	return out
}

// Validate checks spec against the descriptor.
func (s Schema) Validate(spec map[string]any) error {
	if spec == nil {
		spec = map[string]any{}
	}
	// VisitJSON expects encoding/json output: float64 numbers, []any lists.
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}

	if err := s.OpenAPI().VisitJSON(value); err != nil {
		return &ValidationError{err: err}
	}
	return nil
}

// ValidationError reports the first spec violation.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	var se *openapi3.SchemaError
	if errors.As(e.err, &se) {
		path := strings.Join(se.JSONPointer(), ".")
		if path == "" {
			return "spec: " + se.Reason
		}
		return "spec." + path + ": " + se.Reason
	}
	return "spec: " + e.err.Error()
}

func (e *ValidationError) Unwrap() error { return e.err }
