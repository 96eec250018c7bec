// Package value defines the JSON value model shared by the operator
// grammar and the executor: decoded-JSON Go trees (nil, bool, numbers,
// string, []any, map[string]any) plus the truthiness, equality, and
// ordering rules every boolean-context consumer reuses.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotComparable indicates two values have no defined ordering.
var ErrNotComparable = errors.New("values are not comparable")

// Truthy reports whether v counts as true in a boolean context.
// Null, false, zero, the empty string, and empty arrays/objects are
// falsy; everything else is truthy.
func Truthy(v any) bool {
	switch current := v.(type) {
	case nil:
		return false
	case bool:
		return current
	case string:
		return current != ""
	case []any:
		return len(current) > 0
	case map[string]any:
		return len(current) > 0
	default:
		if n, ok := ToFloat64(current); ok {
			return n != 0
		}
		return true
	}
}

// Equal reports deep equality between two values. Numbers compare by
// numeric value regardless of their Go representation; otherwise values
// of different kinds are simply unequal, never an error.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	aNumber, aIsNumber := ToFloat64(a)
	bNumber, bIsNumber := ToFloat64(b)
	if aIsNumber || bIsNumber {
		return aIsNumber && bIsNumber && aNumber == bNumber
	}

	switch left := a.(type) {
	case bool:
		right, ok := b.(bool)
		return ok && left == right
	case string:
		right, ok := b.(string)
		return ok && left == right
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		right, ok := b.(map[string]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for k, lv := range left {
			rv, present := right[k]
			if !present || !Equal(lv, rv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values of the same orderable kind. Numbers compare
// numerically, strings byte-lexicographically. Any other pairing
// returns ErrNotComparable.
func Compare(a, b any) (int, error) {
	aNumber, aIsNumber := ToFloat64(a)
	bNumber, bIsNumber := ToFloat64(b)
	if aIsNumber && bIsNumber {
		switch {
		case aNumber < bNumber:
			return -1, nil
		case aNumber > bNumber:
			return 1, nil
		default:
			return 0, nil
		}
	}

	aString, aIsString := a.(string)
	bString, bIsString := b.(string)
	if aIsString && bIsString {
		return strings.Compare(aString, bString), nil
	}

	return 0, fmt.Errorf("%w: %s and %s", ErrNotComparable, Kind(a), Kind(b))
}

// Kind returns the JSON kind name of v for error messages.
func Kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		if _, ok := ToFloat64(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}

// ToFloat64 converts supported numeric values to float64.
func ToFloat64(v any) (float64, bool) {
	switch current := v.(type) {
	case int:
		return float64(current), true
	case int8:
		return float64(current), true
	case int16:
		return float64(current), true
	case int32:
		return float64(current), true
	case int64:
		return float64(current), true
	case uint:
		return float64(current), true
	case uint8:
		return float64(current), true
	case uint16:
		return float64(current), true
	case uint32:
		return float64(current), true
	case uint64:
		return float64(current), true
	case float32:
		return float64(current), true
	case float64:
		return current, true
	case json.Number:
		parsed, err := current.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
