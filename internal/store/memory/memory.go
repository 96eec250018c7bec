// Package memory provides an in-process document store implementing
// the database capability. It keeps insertion order per collection so
// unsorted queries are deterministic.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/deckrun/deck/internal/provider"
	"github.com/deckrun/deck/internal/store"
)

type collection struct {
	docs  map[string]map[string]any
	order []string
}

// Store is a mutex-guarded map of collections, safe for concurrent
// pipeline runs.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Seed inserts documents outside any pipeline run, for startup
// fixtures and tests.
func (s *Store) Seed(ctx context.Context, name string, docs ...map[string]any) error {
	for _, doc := range docs {
		if _, err := s.Insert(ctx, name, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, name string, q provider.Query) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[name]
	if !ok {
		return []map[string]any{}, nil
	}

	matched := make([]map[string]any, 0, len(coll.order))
	for _, id := range coll.order {
		doc := coll.docs[id]
		if store.Match(doc, q.Filter) {
			matched = append(matched, store.Clone(doc))
		}
	}

	return store.Shape(matched, q), nil
}

func (s *Store) Insert(ctx context.Context, name string, doc map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		coll = &collection{docs: make(map[string]map[string]any)}
		s.collections[name] = coll
	}

	stored := store.Clone(doc)
	id, ok := stored["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}

	if _, exists := coll.docs[id]; !exists {
		coll.order = append(coll.order, id)
	}
	coll.docs[id] = stored

	return store.Clone(stored), nil
}

func (s *Store) Update(ctx context.Context, name string, filter, patch map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return 0, nil
	}

	count := 0
	for _, id := range coll.order {
		doc := coll.docs[id]
		if store.Match(doc, filter) {
			coll.docs[id] = store.Patch(doc, patch)
			count++
		}
	}

	return count, nil
}

func (s *Store) Delete(ctx context.Context, name string, filter map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return 0, nil
	}

	kept := coll.order[:0]
	count := 0
	for _, id := range coll.order {
		if store.Match(coll.docs[id], filter) {
			delete(coll.docs, id)
			count++
		} else {
			kept = append(kept, id)
		}
	}
	coll.order = kept

	return count, nil
}
