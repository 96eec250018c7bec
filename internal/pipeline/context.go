// Package pipeline holds the accumulating variable store for one
// pipeline run, the step model, and the closed execution error
// taxonomy.
package pipeline

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/deckrun/deck/internal/value"
)

// Reserved top-level names populated from the request before a
// pipeline runs.
const (
	VarParams  = "params"
	VarQuery   = "query"
	VarHeaders = "headers"
	VarBody    = "body"
)

// Context is the append-only variable store accumulated across one
// pipeline run. A context is owned by exactly one run and never shared
// between concurrent runs. Child scopes created with Fork overlay
// extra bindings without copying or mutating the parent.
type Context struct {
	parent *Context
	vars   map[string]any
}

// NewContext returns an empty root context.
func NewContext() *Context {
	return &Context{vars: make(map[string]any)}
}

// Bind adds a named value. Names are write-once within a run;
// rebinding an existing name (including one bound in a parent scope)
// is an error.
func (c *Context) Bind(name string, v any) error {
	if name == "" {
		return fmt.Errorf("variable name cannot be empty")
	}
	if c.Has(name) {
		return fmt.Errorf("variable %q is already bound", name)
	}
	c.vars[name] = v
	return nil
}

// Fork creates a child scope. Bindings added to the child shadow
// nothing (duplicate names stay errors) and are invisible to the
// parent, which keeps per-element evaluation in collection operators
// free of interference.
func (c *Context) Fork() *Context {
	return &Context{parent: c, vars: make(map[string]any)}
}

// Value returns the value bound to a top-level name.
func (c *Context) Value(name string) (any, bool) {
	for scope := c; scope != nil; scope = scope.parent {
		if v, ok := scope.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether a top-level name is bound.
func (c *Context) Has(name string) bool {
	_, ok := c.Value(name)
	return ok
}

// Lookup resolves a dot path such as "user.email" or "items.0.name".
// A missing variable or field yields PathNotFound; indexing a
// non-array with a numeric segment, or an array with a non-numeric
// one, yields TypeMismatch.
func (c *Context) Lookup(path string) (any, error) {
	segments := strings.Split(path, ".")

	current, ok := c.Value(segments[0])
	if !ok {
		return nil, NotFound(path)
	}

	for _, segment := range segments[1:] {
		switch node := current.(type) {
		case map[string]any:
			next, present := node[segment]
			if !present {
				return nil, NotFound(path)
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil, TypeMismatchf("cannot index array with %q in path %q", segment, path)
			}
			if index < 0 || index >= len(node) {
				return nil, NotFound(path)
			}
			current = node[index]
		default:
			if _, err := strconv.Atoi(segment); err == nil {
				return nil, TypeMismatchf("cannot index %s with %q in path %q", value.Kind(node), segment, path)
			}
			return nil, NotFound(path)
		}
	}

	return current, nil
}

// Snapshot flattens the scope chain into a single object, outermost
// bindings first so inner scopes win on (impossible by construction)
// collisions. Used for $jsonPath queries and response rendering.
func (c *Context) Snapshot() map[string]any {
	var scopes []*Context
	for scope := c; scope != nil; scope = scope.parent {
		scopes = append(scopes, scope)
	}

	merged := make(map[string]any)
	for i := len(scopes) - 1; i >= 0; i-- {
		maps.Copy(merged, scopes[i].vars)
	}
	return merged
}
