package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

// templateArtifacts match unresolved placeholders left behind by a
// model that echoed a template instead of filling it in.
var templateArtifacts = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^}]*\}\}`),
	regexp.MustCompile(`(?i)\[(?:placeholder|insert [a-z ]+|your [a-z ]+|agent name)\]`),
}

// Range bounds a numeric output field, inclusive.
type Range struct {
	Min float64
	Max float64
}

// Schema declares the expected shape of a reasoner output for one
// pipeline step.
type Schema struct {
	Required []string
	Enums    map[string][]string
	Ranges   map[string]Range
}

// ValidateOutput checks a decoded reasoner output against the schema.
// Returns nil when the output passes.
func (v *Validator) ValidateOutput(out map[string]any, schema Schema) *Violation {
	if out == nil {
		return &Violation{Reason: "output is empty"}
	}

	for _, field := range schema.Required {
		val, ok := out[field]
		if !ok || val == nil {
			return &Violation{Field: field, Reason: "required field missing"}
		}
		if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
			return &Violation{Field: field, Reason: "required field empty"}
		}
	}

	for field, allowed := range schema.Enums {
		val, ok := out[field]
		if !ok {
			continue
		}
		s, isStr := val.(string)
		if !isStr {
			return &Violation{Field: field, Reason: "expected a string value"}
		}
		if !contains(allowed, s) {
			return &Violation{Field: field, Reason: fmt.Sprintf("value %q not in allowed set", s)}
		}
	}

	for field, bounds := range schema.Ranges {
		val, ok := out[field]
		if !ok {
			continue
		}
		n, err := toFloat(val)
		if err != nil {
			return &Violation{Field: field, Reason: "expected a numeric value"}
		}
		if n < bounds.Min || n > bounds.Max {
			return &Violation{Field: field, Reason: fmt.Sprintf("value %v outside [%v, %v]", n, bounds.Min, bounds.Max)}
		}
	}

	for field, val := range out {
		s, isStr := val.(string)
		if !isStr {
			continue
		}
		for _, pat := range templateArtifacts {
			if pat.MatchString(s) {
				return &Violation{Field: field, Reason: "contains unresolved template artifact"}
			}
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
