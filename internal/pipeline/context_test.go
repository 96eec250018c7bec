package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContextBind(t *testing.T) {
	t.Parallel()

	ctx := NewContext()
	if err := ctx.Bind("user", map[string]any{"id": "123"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if err := ctx.Bind("user", "again"); err == nil {
		t.Fatal("expected rebinding an existing name to fail")
	}

	if err := ctx.Bind("", 1); err == nil {
		t.Fatal("expected empty name to fail")
	}
}

func TestContextHas(t *testing.T) {
	t.Parallel()

	parent := NewContext()
	if err := parent.Bind("shared", "parent"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	child := parent.Fork()
	if !child.Has("shared") {
		t.Error("child should report parent bindings")
	}
	if parent.Has("missing") {
		t.Error("unbound name reported as present")
	}
}

func TestContextForkIsolation(t *testing.T) {
	t.Parallel()

	parent := NewContext()
	if err := parent.Bind("shared", "parent"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	child := parent.Fork()
	if err := child.Bind("item", 1); err != nil {
		t.Fatalf("Bind in child failed: %v", err)
	}

	if _, ok := child.Value("shared"); !ok {
		t.Error("child should see parent bindings")
	}
	if _, ok := parent.Value("item"); ok {
		t.Error("parent should not see child bindings")
	}
	if err := child.Bind("shared", "again"); err == nil {
		t.Error("child rebinding a parent name should fail")
	}
}

func TestContextLookup(t *testing.T) {
	t.Parallel()

	ctx := NewContext()
	mustBind(t, ctx, "user", map[string]any{
		"email": "alice@example.com",
		"profile": map[string]any{
			"age": 30,
		},
	})
	mustBind(t, ctx, "items", []any{
		map[string]any{"name": "first"},
		map[string]any{"name": "second"},
	})
	mustBind(t, ctx, "count", 42)

	tests := []struct {
		name     string
		path     string
		want     any
		wantCode Code
	}{
		{name: "top_level", path: "count", want: 42},
		{name: "nested_field", path: "user.email", want: "alice@example.com"},
		{name: "deep_field", path: "user.profile.age", want: 30},
		{name: "array_index", path: "items.1.name", want: "second"},
		{name: "missing_variable", path: "missing", wantCode: CodePathNotFound},
		{name: "missing_field", path: "user.missing", wantCode: CodePathNotFound},
		{name: "index_out_of_range", path: "items.9", wantCode: CodePathNotFound},
		{name: "field_on_scalar", path: "count.something", wantCode: CodePathNotFound},
		{name: "index_on_scalar", path: "count.0", wantCode: CodeTypeMismatch},
		{name: "name_segment_on_array", path: "items.first", wantCode: CodeTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ctx.Lookup(tt.path)
			if tt.wantCode != "" {
				code, ok := CodeOf(err)
				if !ok || code != tt.wantCode {
					t.Fatalf("Lookup(%q) error = %v, want code %s", tt.path, err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q) unexpected error: %v", tt.path, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Lookup(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestContextSnapshot(t *testing.T) {
	t.Parallel()

	parent := NewContext()
	mustBind(t, parent, "a", 1)
	child := parent.Fork()
	mustBind(t, child, "b", 2)

	want := map[string]any{"a": 1, "b": 2}
	if diff := cmp.Diff(want, child.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorSentinels(t *testing.T) {
	t.Parallel()

	err := NotFound("user.email")
	if !errors.Is(err, ErrPathNotFound) {
		t.Error("NotFound should match ErrPathNotFound")
	}
	if errors.Is(err, ErrTypeMismatch) {
		t.Error("NotFound should not match ErrTypeMismatch")
	}

	wrapped := Storage(errors.New("disk on fire"))
	if !errors.Is(wrapped, ErrStorage) {
		t.Error("Storage should match ErrStorage")
	}

	code, ok := CodeOf(wrapped)
	if !ok || code != CodeStorage {
		t.Errorf("CodeOf = %v, %v, want %s", code, ok, CodeStorage)
	}
}

func mustBind(t *testing.T, ctx *Context, name string, v any) {
	t.Helper()
	if err := ctx.Bind(name, v); err != nil {
		t.Fatalf("Bind(%q) failed: %v", name, err)
	}
}
