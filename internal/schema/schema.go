// Package schema checks values against JSON-Schema-shaped documents
// for the $validate operator. It covers the keyword subset the config
// format uses: type, properties, required, items, enum, string length
// bounds, numeric bounds, and pattern.
package schema

import (
	"fmt"
	"math"
	"regexp"

	"github.com/deckrun/deck/internal/value"
)

// Validate returns every violation of schema by v, empty when valid.
func Validate(v any, schema any) []string {
	return check("$", v, schema)
}

func check(path string, v any, schema any) []string {
	switch current := schema.(type) {
	case bool:
		if current {
			return nil
		}
		return []string{fmt.Sprintf("%s: not allowed by schema", path)}
	case map[string]any:
		return checkObject(path, v, current)
	default:
		return []string{fmt.Sprintf("%s: schema must be an object or boolean, got %s", path, value.Kind(schema))}
	}
}

func checkObject(path string, v any, schema map[string]any) []string {
	var violations []string

	if want, ok := schema["type"]; ok {
		violations = append(violations, checkType(path, v, want)...)
	}

	if allowed, ok := schema["enum"].([]any); ok {
		found := false
		for _, candidate := range allowed {
			if value.Equal(v, candidate) {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations, fmt.Sprintf("%s: value not in enum", path))
		}
	}

	if str, ok := v.(string); ok {
		violations = append(violations, checkString(path, str, schema)...)
	}
	if n, ok := value.ToFloat64(v); ok {
		violations = append(violations, checkNumber(path, n, schema)...)
	}
	if object, ok := v.(map[string]any); ok {
		violations = append(violations, checkProperties(path, object, schema)...)
	}
	if array, ok := v.([]any); ok {
		if items, present := schema["items"]; present {
			for i, element := range array {
				violations = append(violations, check(fmt.Sprintf("%s[%d]", path, i), element, items)...)
			}
		}
	}

	return violations
}

func checkType(path string, v any, want any) []string {
	names, ok := typeNames(want)
	if !ok {
		return []string{fmt.Sprintf("%s: invalid type constraint", path)}
	}

	for _, name := range names {
		if matchesType(v, name) {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s: expected %v, got %s", path, names, value.Kind(v))}
}

func typeNames(want any) ([]string, bool) {
	switch current := want.(type) {
	case string:
		return []string{current}, true
	case []any:
		names := make([]string, 0, len(current))
		for _, entry := range current {
			name, ok := entry.(string)
			if !ok {
				return nil, false
			}
			names = append(names, name)
		}
		return names, true
	default:
		return nil, false
	}
}

func matchesType(v any, name string) bool {
	switch name {
	case "null":
		return v == nil
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := value.ToFloat64(v)
		return ok
	case "integer":
		n, ok := value.ToFloat64(v)
		return ok && n == math.Trunc(n)
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func checkString(path, str string, schema map[string]any) []string {
	var violations []string

	if minimum, ok := value.ToFloat64(schema["minLength"]); ok && float64(len(str)) < minimum {
		violations = append(violations, fmt.Sprintf("%s: shorter than minLength %v", path, minimum))
	}
	if maximum, ok := value.ToFloat64(schema["maxLength"]); ok && float64(len(str)) > maximum {
		violations = append(violations, fmt.Sprintf("%s: longer than maxLength %v", path, maximum))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: invalid pattern %q", path, pattern))
		} else if !re.MatchString(str) {
			violations = append(violations, fmt.Sprintf("%s: does not match pattern %q", path, pattern))
		}
	}

	return violations
}

func checkNumber(path string, n float64, schema map[string]any) []string {
	var violations []string

	if minimum, ok := value.ToFloat64(schema["minimum"]); ok && n < minimum {
		violations = append(violations, fmt.Sprintf("%s: below minimum %v", path, minimum))
	}
	if maximum, ok := value.ToFloat64(schema["maximum"]); ok && n > maximum {
		violations = append(violations, fmt.Sprintf("%s: above maximum %v", path, maximum))
	}

	return violations
}

func checkProperties(path string, object map[string]any, schema map[string]any) []string {
	var violations []string

	if required, ok := schema["required"].([]any); ok {
		for _, entry := range required {
			name, ok := entry.(string)
			if !ok {
				continue
			}
			if _, present := object[name]; !present {
				violations = append(violations, fmt.Sprintf("%s: missing required property %q", path, name))
			}
		}
	}

	if properties, ok := schema["properties"].(map[string]any); ok {
		for name, propSchema := range properties {
			propValue, present := object[name]
			if !present {
				continue
			}
			violations = append(violations, check(path+"."+name, propValue, propSchema)...)
		}
	}

	return violations
}
