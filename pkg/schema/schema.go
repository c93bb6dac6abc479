// Package schema validates ev_conf sub-trees against a JSON Schema.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/types"
)

const schemaURL = "ev_conf.schema.json"

//go:embed ev_conf.schema.json
var evConfSchemaJSON string

// Schema wraps the compiled ev_conf schema.
type Schema struct {
	schema *jsonschema.Schema
}

// New compiles the embedded ev_conf schema.
func New() (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(evConfSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	s, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// ValidateJSON validates a raw ev_conf object.
func (s *Schema) ValidateJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return &codec.ValidationError{Problems: problems(err)}
	}
	return nil
}

// Validate validates a decoded EVConfig.
func (s *Schema) Validate(c types.EVConfig) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal ev configuration: %w", err)
	}
	return s.ValidateJSON(data)
}

// Validator returns s as a codec.Validator.
func (s *Schema) Validator() codec.Validator {
	return s.Validate
}

// problems flattens the leaves of a validation error into readable lines.
func problems(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				loc = types.EVConfKey
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}
