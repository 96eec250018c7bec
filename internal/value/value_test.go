package value

import (
	"errors"
	"testing"
)

func TestTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{name: "null", input: nil, want: false},
		{name: "false", input: false, want: false},
		{name: "true", input: true, want: true},
		{name: "zero", input: 0, want: false},
		{name: "zero_float", input: 0.0, want: false},
		{name: "nonzero", input: 1, want: true},
		{name: "negative", input: -1.5, want: true},
		{name: "empty_string", input: "", want: false},
		{name: "string", input: "hello", want: true},
		{name: "empty_array", input: []any{}, want: false},
		{name: "array", input: []any{1, 2, 3}, want: true},
		{name: "empty_object", input: map[string]any{}, want: false},
		{name: "object", input: map[string]any{"key": "value"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Truthy(tt.input); got != tt.want {
				t.Errorf("Truthy(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    any
		b    any
		want bool
	}{
		{name: "numbers_equal", a: 5, b: 5.0, want: true},
		{name: "numbers_mixed_repr", a: uint64(42), b: int64(42), want: true},
		{name: "numbers_unequal", a: 5, b: 3, want: false},
		{name: "no_cross_kind_coercion", a: 1, b: "1", want: false},
		{name: "strings", a: "hello", b: "hello", want: true},
		{name: "bools", a: true, b: true, want: true},
		{name: "bool_vs_number", a: true, b: 1, want: false},
		{name: "nulls", a: nil, b: nil, want: true},
		{name: "null_vs_value", a: nil, b: 5, want: false},
		{name: "arrays", a: []any{1, "a"}, b: []any{1.0, "a"}, want: true},
		{name: "arrays_different_length", a: []any{1}, b: []any{1, 2}, want: false},
		{
			name: "objects",
			a:    map[string]any{"x": 1, "y": []any{true}},
			b:    map[string]any{"y": []any{true}, "x": 1.0},
			want: true,
		},
		{
			name: "objects_missing_key",
			a:    map[string]any{"x": 1},
			b:    map[string]any{"z": 1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a       any
		b       any
		want    int
		wantErr bool
	}{
		{name: "numbers_less", a: 3, b: 5, want: -1},
		{name: "numbers_greater", a: 5.5, b: 5, want: 1},
		{name: "numbers_equal", a: 5, b: 5.0, want: 0},
		{name: "strings", a: "a", b: "b", want: -1},
		{name: "number_vs_string", a: 1, b: "a", wantErr: true},
		{name: "bools_not_orderable", a: true, b: false, wantErr: true},
		{name: "arrays_not_orderable", a: []any{1}, b: []any{2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Compare(tt.a, tt.b)
			if tt.wantErr {
				if !errors.Is(err, ErrNotComparable) {
					t.Fatalf("Compare(%v, %v) error = %v, want ErrNotComparable", tt.a, tt.b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compare(%v, %v) unexpected error: %v", tt.a, tt.b, err)
			}
			if got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input any
		want  string
	}{
		{input: nil, want: "null"},
		{input: true, want: "boolean"},
		{input: 1.5, want: "number"},
		{input: int64(1), want: "number"},
		{input: "x", want: "string"},
		{input: []any{}, want: "array"},
		{input: map[string]any{}, want: "object"},
	}

	for _, tt := range tests {
		if got := Kind(tt.input); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
