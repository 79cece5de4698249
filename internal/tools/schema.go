package tools

import (
	"fmt"
	"math"
	"strings"
)

// Parameter types accepted in a Schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes one tool parameter.
type Property struct {
	Type        string
	Description string
	Enum        []string
	// Items is the element type for arrays.
	Items string
}

// Schema is the declared parameter object of a tool.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// JSONSchema renders the schema in the JSON-schema form models expect.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		props[name] = prop
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ValidationError reports a missing or malformed parameter.
type ValidationError struct {
	Param   string
	Missing bool
}

func (e *ValidationError) Error() string {
	if e.Missing {
		return fmt.Sprintf("missing required parameter %q", e.Param)
	}
	return fmt.Sprintf("invalid parameter %q", e.Param)
}

// Message returns the localized user message for the error.
func (e *ValidationError) Message() string {
	if e.Missing {
		return fmt.Sprintf(msgMissingParam, e.Param, e.Param)
	}
	return fmt.Sprintf(msgInvalidParam, e.Param, e.Param)
}

// Validate checks required parameters and primitive types. Unknown
// parameters are ignored.
func (s Schema) Validate(params map[string]any) error {
	for _, name := range s.Required {
		v, ok := params[name]
		if !ok || v == nil {
			return &ValidationError{Param: name, Missing: true}
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return &ValidationError{Param: name, Missing: true}
		}
	}

	for name, v := range params {
		p, ok := s.Properties[name]
		if !ok || v == nil {
			continue
		}
		if !matchesType(p.Type, v) {
			return &ValidationError{Param: name}
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, v) {
			return &ValidationError{Param: name}
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case TypeNumber:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func inEnum(enum []string, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, e := range enum {
		if strings.EqualFold(e, s) {
			return true
		}
	}
	return false
}
