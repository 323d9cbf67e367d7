package manifest

import (
	"fmt"
	"math"
	"sort"
)

// Property types accepted by the input schema subset.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// InputSchema is the JSON-Schema subset an action may constrain its input
// with: a flat object of typed properties.
type InputSchema struct {
	Type                 string              `json:"type"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties *bool               `json:"additionalProperties,omitempty"`
	Properties           map[string]Property `json:"properties,omitempty"`
}

// Property constrains a single input field.
type Property struct {
	Type      string        `json:"type"`
	MinLength *int64        `json:"minLength,omitempty"`
	MaxLength *int64        `json:"maxLength,omitempty"`
	Minimum   *float64      `json:"minimum,omitempty"`
	Maximum   *float64      `json:"maximum,omitempty"`
	Enum      []interface{} `json:"enum,omitempty"`
}

func (s *InputSchema) validateSchema(prefix string) []string {
	var errs []string
	if s.Type != "object" {
		errs = append(errs, prefix+"inputSchema.type must be \"object\"")
	}
	props := map[string]bool{}
	for name, p := range s.Properties {
		props[name] = true
		switch p.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		default:
			errs = append(errs, prefix+fmt.Sprintf("inputSchema property %q has unsupported type %q", name, p.Type))
		}
		if p.MinLength != nil && *p.MinLength < 0 {
			errs = append(errs, prefix+fmt.Sprintf("inputSchema property %q minLength must be >= 0", name))
		}
		if p.MinLength != nil && p.MaxLength != nil && *p.MaxLength < *p.MinLength {
			errs = append(errs, prefix+fmt.Sprintf("inputSchema property %q maxLength must be >= minLength", name))
		}
		if p.Minimum != nil && p.Maximum != nil && *p.Maximum < *p.Minimum {
			errs = append(errs, prefix+fmt.Sprintf("inputSchema property %q maximum must be >= minimum", name))
		}
	}
	for _, r := range s.Required {
		if !props[r] {
			errs = append(errs, prefix+fmt.Sprintf("inputSchema requires unknown property %q", r))
		}
	}
	return errs
}

// ValidateInput checks input against the schema and returns every violation.
// A nil schema accepts any object.
func (s *InputSchema) ValidateInput(input map[string]interface{}) []string {
	if s == nil {
		return nil
	}
	var errs []string
	for _, r := range s.Required {
		if _, ok := input[r]; !ok {
			errs = append(errs, fmt.Sprintf("missing required property %q", r))
		}
	}

	// Deterministic order for error reporting.
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	allowUnknown := s.AdditionalProperties != nil && *s.AdditionalProperties
	for _, k := range keys {
		prop, known := s.Properties[k]
		if !known {
			if !allowUnknown {
				errs = append(errs, fmt.Sprintf("unknown property %q", k))
			}
			continue
		}
		errs = append(errs, prop.validateValue(k, input[k])...)
	}
	return errs
}

func (p Property) validateValue(name string, v interface{}) []string {
	var errs []string
	switch p.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return []string{fmt.Sprintf("property %q must be a string", name)}
		}
		if p.MinLength != nil && int64(len(str)) < *p.MinLength {
			errs = append(errs, fmt.Sprintf("property %q must be at least %d characters", name, *p.MinLength))
		}
		if p.MaxLength != nil && int64(len(str)) > *p.MaxLength {
			errs = append(errs, fmt.Sprintf("property %q must be at most %d characters", name, *p.MaxLength))
		}
	case TypeInteger:
		num, ok := asFiniteNumber(v)
		if !ok || num != math.Trunc(num) {
			return []string{fmt.Sprintf("property %q must be an integer", name)}
		}
		errs = append(errs, p.validateBounds(name, num)...)
	case TypeNumber:
		num, ok := asFiniteNumber(v)
		if !ok {
			return []string{fmt.Sprintf("property %q must be a finite number", name)}
		}
		errs = append(errs, p.validateBounds(name, num)...)
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return []string{fmt.Sprintf("property %q must be a boolean", name)}
		}
	}
	if len(p.Enum) > 0 && !enumContains(p.Enum, v) {
		errs = append(errs, fmt.Sprintf("property %q must be one of the enum values", name))
	}
	return errs
}

func (p Property) validateBounds(name string, num float64) []string {
	var errs []string
	if p.Minimum != nil && num < *p.Minimum {
		errs = append(errs, fmt.Sprintf("property %q must be >= %v", name, *p.Minimum))
	}
	if p.Maximum != nil && num > *p.Maximum {
		errs = append(errs, fmt.Sprintf("property %q must be <= %v", name, *p.Maximum))
	}
	return errs
}

func asFiniteNumber(v interface{}) (float64, bool) {
	num, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, false
	}
	return num, true
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if ev, ok := asFiniteNumber(e); ok {
			if vv, ok := asFiniteNumber(v); ok && ev == vv {
				return true
			}
			continue
		}
		if e == v {
			return true
		}
	}
	return false
}
