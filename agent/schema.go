package agent

import (
	"fmt"
	"strings"
)

// Schema is a minimal JSON-Schema-shaped description of a tool's input:
// required fields, primitive types, and numeric bounds. It is both
// advertised to the model and enforced before execution.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Property describes one argument.
type Property struct {
	Type        string // "string", "number", "integer", "boolean", "object", "array"
	Description string
	Minimum     *float64
	Maximum     *float64
	Enum        []string
}

// Num is a convenience for optional numeric bounds.
func Num(v float64) *float64 { return &v }

// JSON renders the schema in the wire shape the model expects.
func (s *Schema) JSON() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Validate checks args against the schema. A nil schema accepts anything.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	for _, field := range s.Required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}

	for key, value := range args {
		prop, ok := s.Properties[key]
		if !ok {
			continue
		}
		if err := checkType(value, prop.Type); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if err := checkBounds(value, prop); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if err := checkEnum(value, prop); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

func checkType(value any, expected string) error {
	if expected == "" {
		return nil
	}
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if _, ok := asFloat(value); ok {
			return nil
		}
	case "integer":
		if f, ok := asFloat(value); ok && f == float64(int64(f)) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func checkBounds(value any, prop Property) error {
	f, ok := asFloat(value)
	if !ok {
		return nil
	}
	if prop.Minimum != nil && f < *prop.Minimum {
		return fmt.Errorf("value %v is below minimum %v", f, *prop.Minimum)
	}
	if prop.Maximum != nil && f > *prop.Maximum {
		return fmt.Errorf("value %v is above maximum %v", f, *prop.Maximum)
	}
	return nil
}

func checkEnum(value any, prop Property) error {
	if len(prop.Enum) == 0 {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return nil
	}
	for _, allowed := range prop.Enum {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("value %q not one of [%s]", s, strings.Join(prop.Enum, ", "))
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
