package agentcontext

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jsonSchemaSection renders the JSON-schema instructions for an agent
// configured with outputFormat "json" and a non-empty jsonSchema. It
// validates the schema document itself via gojsonschema's meta-schema
// loader so a malformed schema fails loudly at context-build time rather
// than silently producing an unusable prompt section.
func jsonSchemaSection(schema map[string]any) (string, error) {
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agentcontext: marshal json schema: %w", err)
	}

	loader := gojsonschema.NewBytesLoader(raw)
	if _, err := gojsonschema.NewSchema(loader); err != nil {
		return "", fmt.Errorf("agentcontext: invalid json schema: %w", err)
	}

	example, err := exampleFromSchema(schema)
	if err != nil {
		return "", err
	}
	exampleRaw, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agentcontext: marshal schema example: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("### Output Format\n")
	sb.WriteString("Respond with a single JSON object matching this schema:\n")
	sb.WriteString("```json\n")
	sb.Write(raw)
	sb.WriteString("\n```\n")
	sb.WriteString("Example:\n```json\n")
	sb.Write(exampleRaw)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

// exampleFromSchema produces a minimal JSON value consistent with schema,
// filling required object properties and using zero-ish scalars. It is
// only a drafting aid for the prompt; agent output is not validated
// against the schema.
func exampleFromSchema(schema map[string]any) (any, error) {
	switch t, _ := schema["type"].(string); t {
	case "object":
		out := map[string]any{}
		props, _ := schema["properties"].(map[string]any)
		required, _ := schema["required"].([]any)
		wanted := map[string]struct{}{}
		for _, r := range required {
			if s, ok := r.(string); ok {
				wanted[s] = struct{}{}
			}
		}
		if len(wanted) == 0 {
			for name := range props {
				wanted[name] = struct{}{}
			}
		}
		for name := range wanted {
			propSchema, _ := props[name].(map[string]any)
			val, err := exampleFromSchema(propSchema)
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil
	case "array":
		items, _ := schema["items"].(map[string]any)
		val, err := exampleFromSchema(items)
		if err != nil {
			return nil, err
		}
		return []any{val}, nil
	case "string":
		if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
			return enum[0], nil
		}
		return "string", nil
	case "integer":
		return 0, nil
	case "number":
		return 0, nil
	case "boolean":
		return false, nil
	default:
		return nil, nil
	}
}
