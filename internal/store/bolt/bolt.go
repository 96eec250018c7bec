// Package bolt provides a bbolt-backed document store implementing
// the database capability: one bucket per collection, documents stored
// as JSON keyed by id.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"

	"github.com/deckrun/deck/internal/provider"
	"github.com/deckrun/deck/internal/store"
)

// Store persists collections in a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database file.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Query(ctx context.Context, name string, q provider.Query) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []map[string]any
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, raw []byte) error {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode document in %s: %w", name, err)
			}
			if store.Match(doc, q.Filter) {
				matched = append(matched, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if matched == nil {
		matched = []map[string]any{}
	}
	return store.Shape(matched, q), nil
}

func (s *Store) Insert(ctx context.Context, name string, doc map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := store.Clone(doc)
	id, ok := stored["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode document for %s: %w", name, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), raw)
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

func (s *Store) Update(ctx context.Context, name string, filter, patch map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}

		// Collect first: bbolt forbids Put during ForEach.
		patched := make(map[string][]byte)
		err := bucket.ForEach(func(key, raw []byte) error {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode document in %s: %w", name, err)
			}
			if !store.Match(doc, filter) {
				return nil
			}
			encoded, err := json.Marshal(store.Patch(doc, patch))
			if err != nil {
				return fmt.Errorf("encode document for %s: %w", name, err)
			}
			patched[string(key)] = encoded
			return nil
		})
		if err != nil {
			return err
		}

		for key, raw := range patched {
			if err := bucket.Put([]byte(key), raw); err != nil {
				return err
			}
		}
		count = len(patched)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *Store) Delete(ctx context.Context, name string, filter map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}

		var doomed [][]byte
		err := bucket.ForEach(func(key, raw []byte) error {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode document in %s: %w", name, err)
			}
			if store.Match(doc, filter) {
				doomed = append(doomed, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range doomed {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		count = len(doomed)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
