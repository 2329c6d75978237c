// Package schema provides JSON Schema generation from Go types.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
)

// Reflector is configured for LLM tool/response schemas.
// DoNotReference inlines all definitions to avoid $ref.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// Generate creates a JSON Schema from a Go type.
// The type should be a struct with json and jsonschema tags.
//
// Example:
//
//	type Summary struct {
//	    Headline string `json:"headline" jsonschema:"required,description=One-line professional headline"`
//	    Body     string `json:"body" jsonschema:"required"`
//	}
//
//	schema, err := schema.Generate[Summary]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	schema := Reflector.Reflect(&zero)
	return json.Marshal(schema)
}

// GenerateFromValue creates a JSON Schema from a value.
// This is useful when you have a value instead of a type.
func GenerateFromValue(v any) (json.RawMessage, error) {
	schema := Reflector.Reflect(v)
	return json.Marshal(schema)
}

// MustGenerate is like Generate but panics on error.
// Useful for package-level schema definitions.
func MustGenerate[T any]() json.RawMessage {
	schema, err := Generate[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

// Strict rewrites a schema for backends that enforce strict structured
// output: every object must list all of its properties as required and
// close itself to additional properties. Returns the input unchanged if
// it cannot be interpreted as a schema object.
func Strict(schema json.RawMessage) json.RawMessage {
	if schema == nil {
		return nil
	}

	var node map[string]any
	if err := json.Unmarshal(schema, &node); err != nil {
		return schema
	}

	strictify(node)

	out, err := json.Marshal(node)
	if err != nil {
		return schema
	}
	return out
}

// strictify recursively closes every object node in the schema.
func strictify(node map[string]any) {
	if props, ok := node["properties"].(map[string]any); ok {
		required := make([]string, 0, len(props))
		for key := range props {
			required = append(required, key)
		}
		sort.Strings(required)
		node["required"] = required
		node["additionalProperties"] = false

		for _, val := range props {
			if child, ok := val.(map[string]any); ok {
				strictify(child)
			}
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		strictify(items)
	}
}
