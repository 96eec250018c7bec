// Package provider defines the capability interfaces injected into the
// executor: storage, clock, and request metadata. Side-effecting
// operators reach the outside world only through these handles, so
// tests swap in deterministic doubles instead of patching globals.
//
// Provider instances are long-lived and shared read-mostly across
// concurrent pipeline runs; implementations must be safe for
// concurrent use.
package provider

import (
	"context"
	"time"
)

// SortField is one sort key of a document query.
type SortField struct {
	Field string
	Desc  bool
}

// Query describes a document read: equality filter, projection,
// pagination, and sort order. Zero Limit means unlimited.
type Query struct {
	Filter map[string]any
	Select []string
	Limit  int
	Skip   int
	Sort   []SortField
}

// Database is the storage capability consumed by the database
// operators. Any consistency guarantees for concurrent operations are
// the implementation's responsibility; the executor holds no locks.
type Database interface {
	// Query returns the documents of a collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]map[string]any, error)

	// Insert stores doc and returns it with its generated id.
	Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error)

	// Update patches every document matching filter and returns the
	// affected count.
	Update(ctx context.Context, collection string, filter, patch map[string]any) (int, error)

	// Delete removes every document matching filter and returns the
	// affected count.
	Delete(ctx context.Context, collection string, filter map[string]any) (int, error)
}

// Clock is the time capability behind $now.
type Clock interface {
	Now() time.Time
}

// Request supplies the data a pipeline context is seeded from.
type Request interface {
	Method() string
	Path() string
	Params() map[string]string
	Query() map[string]string
	Headers() map[string]string

	// Body returns the decoded request body, or nil when absent.
	Body() any
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always reports the same instant, for deterministic tests.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time {
	return c.Instant
}
