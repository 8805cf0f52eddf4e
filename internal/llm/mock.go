package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Mock is an offline Model. Translations are tagged echoes and structured
// output is the smallest object satisfying the schema's required fields.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Translate(_ context.Context, text, source, target string) (string, error) {
	if source == target {
		return text, nil
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

func (m *Mock) Summarize(_ context.Context, text string) (string, error) {
	return strings.TrimSpace(text), nil
}

func (m *Mock) GenerateStructured(_ context.Context, _, _ string, schema *Schema, out any) error {
	obj := make(map[string]any, len(schema.Required))
	for _, name := range schema.Required {
		prop, _ := schema.Properties[name].(map[string]any)
		obj[name] = exampleValue(prop)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return schema.Decode(raw, out)
}

func exampleValue(prop map[string]any) any {
	switch prop["type"] {
	case "string":
		return "ok"
	case "boolean":
		return false
	case "integer", "number":
		return 0
	case "array":
		item, _ := prop["items"].(map[string]any)
		return []any{exampleValue(item)}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}
