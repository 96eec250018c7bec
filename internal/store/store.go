// Package store holds the document helpers shared by the database
// provider implementations: filter matching, query shaping, and
// patching over decoded-JSON documents.
package store

import (
	"sort"

	"github.com/deckrun/deck/internal/provider"
	"github.com/deckrun/deck/internal/value"
)

// Match reports whether doc satisfies every field of an equality
// filter. An empty filter matches all documents.
func Match(doc map[string]any, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}

// Shape applies sort, skip, limit, and projection to matched
// documents, in that order. The input slice is modified for sorting;
// projection returns fresh documents.
func Shape(docs []map[string]any, q provider.Query) []map[string]any {
	if len(q.Sort) > 0 {
		sortDocs(docs, q.Sort)
	}

	if q.Skip > 0 {
		if q.Skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[q.Skip:]
		}
	}

	if q.Limit > 0 && q.Limit < len(docs) {
		docs = docs[:q.Limit]
	}

	if len(q.Select) > 0 {
		projected := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			out := make(map[string]any, len(q.Select))
			for _, field := range q.Select {
				if v, ok := doc[field]; ok {
					out[field] = v
				}
			}
			projected = append(projected, out)
		}
		docs = projected
	}

	return docs
}

func sortDocs(docs []map[string]any, fields []provider.SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			cmp, err := value.Compare(docs[i][field.Field], docs[j][field.Field])
			if err != nil || cmp == 0 {
				continue
			}
			if field.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Patch returns doc with the patch fields overwritten.
func Patch(doc, patch map[string]any) map[string]any {
	out := Clone(doc)
	for field, v := range patch {
		out[field] = v
	}
	return out
}

// Clone deep-copies a document so callers never alias stored state.
func Clone(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch current := v.(type) {
	case map[string]any:
		return Clone(current)
	case []any:
		out := make([]any, len(current))
		for i, e := range current {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return current
	}
}
