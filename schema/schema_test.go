package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test types for schema generation
type SimpleStruct struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type StructWithRequired struct {
	Headline string `json:"headline" jsonschema:"required,description=One-line professional headline"`
	Body     string `json:"body" jsonschema:"required"`
	Years    int    `json:"years,omitempty"`
}

type NestedStruct struct {
	ID   string       `json:"id" jsonschema:"required"`
	Data SimpleStruct `json:"data"`
}

type StructWithArray struct {
	Skills []string `json:"skills"`
}

type StructWithMap struct {
	Metadata map[string]string `json:"metadata"`
}

type StructWithPointer struct {
	Optional *string `json:"optional,omitempty"`
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		generator  func() (json.RawMessage, error)
		checkProps []string
		checkType  string
	}{
		{
			name:       "simple struct",
			generator:  Generate[SimpleStruct],
			checkProps: []string{"name", "age"},
			checkType:  "object",
		},
		{
			name:       "struct with required fields",
			generator:  Generate[StructWithRequired],
			checkProps: []string{"headline", "body", "years"},
			checkType:  "object",
		},
		{
			name:       "nested struct",
			generator:  Generate[NestedStruct],
			checkProps: []string{"id", "data"},
			checkType:  "object",
		},
		{
			name:       "struct with array",
			generator:  Generate[StructWithArray],
			checkProps: []string{"skills"},
			checkType:  "object",
		},
		{
			name:       "struct with map",
			generator:  Generate[StructWithMap],
			checkProps: []string{"metadata"},
			checkType:  "object",
		},
		{
			name:       "struct with pointer",
			generator:  Generate[StructWithPointer],
			checkProps: []string{"optional"},
			checkType:  "object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := tt.generator()
			require.NoError(t, err)
			require.NotEmpty(t, schema)

			var parsed map[string]any
			err = json.Unmarshal(schema, &parsed)
			require.NoError(t, err)

			assert.Equal(t, tt.checkType, parsed["type"])

			props, ok := parsed["properties"].(map[string]any)
			require.True(t, ok, "schema should have properties")

			for _, prop := range tt.checkProps {
				assert.Contains(t, props, prop, "schema should contain property %s", prop)
			}
		})
	}
}

func TestGenerate_RequiredFields(t *testing.T) {
	schema, err := Generate[StructWithRequired]()
	require.NoError(t, err)

	var parsed map[string]any
	err = json.Unmarshal(schema, &parsed)
	require.NoError(t, err)

	required, ok := parsed["required"].([]any)
	require.True(t, ok, "schema should have required array")

	requiredStrs := make([]string, len(required))
	for i, r := range required {
		requiredStrs[i] = r.(string)
	}

	assert.Contains(t, requiredStrs, "headline")
	assert.Contains(t, requiredStrs, "body")
	assert.NotContains(t, requiredStrs, "years", "years should not be required (omitempty)")
}

func TestGenerate_Description(t *testing.T) {
	schema, err := Generate[StructWithRequired]()
	require.NoError(t, err)

	var parsed map[string]any
	err = json.Unmarshal(schema, &parsed)
	require.NoError(t, err)

	props := parsed["properties"].(map[string]any)
	headlineProp := props["headline"].(map[string]any)

	assert.Equal(t, "One-line professional headline", headlineProp["description"])
}

func TestGenerateFromValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{
			name:  "from struct value",
			value: &SimpleStruct{},
		},
		{
			name:  "from nested struct value",
			value: &NestedStruct{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := GenerateFromValue(tt.value)
			require.NoError(t, err)
			require.NotEmpty(t, schema)

			var parsed map[string]any
			err = json.Unmarshal(schema, &parsed)
			require.NoError(t, err)

			assert.Equal(t, "object", parsed["type"])
			assert.Contains(t, parsed, "properties")
		})
	}
}

func TestMustGenerate(t *testing.T) {
	t.Run("valid type does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			schema := MustGenerate[SimpleStruct]()
			assert.NotEmpty(t, schema)
		})
	})
}

func TestReflector_DoNotReference(t *testing.T) {
	// Nested types must be inlined rather than referenced; several
	// backends reject schemas containing $ref.
	assert.True(t, Reflector.DoNotReference)

	schema, err := Generate[NestedStruct]()
	require.NoError(t, err)

	schemaStr := string(schema)
	assert.NotContains(t, schemaStr, "$ref", "schema should not contain $ref when DoNotReference is true")
}

func TestStrict(t *testing.T) {
	in := json.RawMessage(`{
		"type": "object",
		"properties": {
			"headline": {"type": "string"},
			"details": {
				"type": "object",
				"properties": {
					"years": {"type": "integer"}
				}
			},
			"skills": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"}
					}
				}
			}
		}
	}`)

	out := Strict(in)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out, &parsed))

	assert.Equal(t, []any{"details", "headline", "skills"}, parsed["required"])
	assert.Equal(t, false, parsed["additionalProperties"])

	props := parsed["properties"].(map[string]any)

	details := props["details"].(map[string]any)
	assert.Equal(t, []any{"years"}, details["required"])
	assert.Equal(t, false, details["additionalProperties"])

	items := props["skills"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, []any{"name"}, items["required"])
	assert.Equal(t, false, items["additionalProperties"])
}

func TestStrict_PassThrough(t *testing.T) {
	assert.Nil(t, Strict(nil))

	notObject := json.RawMessage(`"just a string"`)
	assert.Equal(t, notObject, Strict(notObject))

	invalid := json.RawMessage(`{broken`)
	assert.Equal(t, invalid, Strict(invalid))
}
