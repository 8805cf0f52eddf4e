package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema for structured generation. Properties
// and Required are exposed so backends can describe the shape upstream.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string

	compiled *jsonschema.Schema
}

// NewSchema compiles raw, which must describe a JSON object.
func NewSchema(name, description, raw string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name+".json", raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	var doc struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", name, err)
	}
	if doc.Type != "object" {
		return nil, fmt.Errorf("schema %s: top-level type must be object", name)
	}
	return &Schema{
		Name:        name,
		Description: description,
		Properties:  doc.Properties,
		Required:    doc.Required,
		compiled:    compiled,
	}, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(name, description, raw string) *Schema {
	s, err := NewSchema(name, description, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates raw against the schema and strictly decodes it into out.
// Every failure wraps ErrSchemaViolation.
func (s *Schema) Decode(raw []byte, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s: invalid json: %v", ErrSchemaViolation, s.Name, err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.Name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.Name, err)
	}
	return nil
}
