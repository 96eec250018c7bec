// Package template renders {{name}} placeholder strings for the
// $renderString operator. Placeholders are resolved by plain lookup;
// no expression evaluation happens inside a template.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnresolved indicates a placeholder with no value.
var ErrUnresolved = errors.New("unresolved placeholder")

// Lookup resolves one placeholder name.
type Lookup func(name string) (any, bool)

// Render substitutes every {{name}} placeholder using lookup.
// Whitespace around the name is ignored. An unresolved or empty
// placeholder fails the whole render.
func Render(text string, lookup Lookup) (string, error) {
	var out strings.Builder

	for {
		start := strings.Index(text, "{{")
		if start < 0 {
			out.WriteString(text)
			return out.String(), nil
		}

		end := strings.Index(text[start:], "}}")
		if end < 0 {
			out.WriteString(text)
			return out.String(), nil
		}
		end += start

		name := strings.TrimSpace(text[start+2 : end])
		if name == "" {
			return "", fmt.Errorf("%w: empty placeholder", ErrUnresolved)
		}

		v, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnresolved, name)
		}

		rendered, err := renderValue(v)
		if err != nil {
			return "", err
		}

		out.WriteString(text[:start])
		out.WriteString(rendered)
		text = text[end+2:]
	}
}

func renderValue(v any) (string, error) {
	switch current := v.(type) {
	case nil:
		return "", nil
	case string:
		return current, nil
	case bool:
		return strconv.FormatBool(current), nil
	case float64:
		return strconv.FormatFloat(current, 'f', -1, 64), nil
	case json.Number:
		return current.String(), nil
	case int:
		return strconv.Itoa(current), nil
	case int64:
		return strconv.FormatInt(current, 10), nil
	case uint64:
		return strconv.FormatUint(current, 10), nil
	default:
		encoded, err := json.Marshal(current)
		if err != nil {
			return "", fmt.Errorf("cannot render value of type %T: %w", v, err)
		}
		return string(encoded), nil
	}
}
