package rpcsurface

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// schemaValidator validates request payloads against small inline JSON
// schemas before any state is touched, the same shape as the teacher's
// JSONValidator wrapper around gojsonschema.
type schemaValidator struct{}

func newSchemaValidator() *schemaValidator { return &schemaValidator{} }

func (v *schemaValidator) validate(data []byte, schema string) error {
	if !json.Valid(data) {
		return fmt.Errorf("payload is not valid JSON")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

const createCollectionSchema = `{
	"type": "object",
	"required": ["name", "dimension", "metric"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"dimension": {"type": "integer", "minimum": 1},
		"metric": {"type": "string", "enum": ["l2", "cosine", "poincare"]},
		"quantization": {"type": "string", "enum": ["none", "scalar", "binary"]},
		"tenant_id": {"type": "string"}
	}
}`

const configureSchema = `{
	"type": "object",
	"required": ["collection"],
	"properties": {
		"collection": {"type": "string", "minLength": 1},
		"ef_search": {"type": "integer", "minimum": 1},
		"ef_construction": {"type": "integer", "minimum": 1}
	}
}`
