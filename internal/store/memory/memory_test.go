package memory

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deckrun/deck/internal/provider"
)

func TestInsertGeneratesID(t *testing.T) {
	t.Parallel()

	s := New()
	doc, err := s.Insert(context.Background(), "posts", map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	id, ok := doc["id"].(string)
	if !ok || id == "" {
		t.Fatalf("Insert() = %v, want generated string id", doc)
	}

	docs, err := s.Query(context.Background(), "posts", provider.Query{Filter: map[string]any{"id": id}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Query() = %v, want the inserted document", docs)
	}
}

func TestInsertKeepsProvidedID(t *testing.T) {
	t.Parallel()

	s := New()
	doc, err := s.Insert(context.Background(), "posts", map[string]any{"id": "fixed", "title": "hello"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if doc["id"] != "fixed" {
		t.Errorf("id = %v, want fixed", doc["id"])
	}
}

func TestQueryPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Seed(context.Background(), "posts",
		map[string]any{"id": "z", "n": float64(1)},
		map[string]any{"id": "a", "n": float64(2)},
		map[string]any{"id": "m", "n": float64(3)},
	)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	docs, err := s.Query(context.Background(), "posts", provider.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	got := make([]string, 0, len(docs))
	for _, doc := range docs {
		got = append(got, doc["id"].(string))
	}
	if diff := cmp.Diff([]string{"z", "a", "m"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryResultsAreDetached(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Seed(context.Background(), "posts", map[string]any{"id": "1", "title": "original"}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	docs, err := s.Query(context.Background(), "posts", provider.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	docs[0]["title"] = "mutated"

	again, err := s.Query(context.Background(), "posts", provider.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if again[0]["title"] != "original" {
		t.Errorf("stored document mutated through query result: %v", again[0])
	}
}

func TestUpdatePatchesMatches(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Seed(context.Background(), "posts",
		map[string]any{"id": "1", "status": "draft"},
		map[string]any{"id": "2", "status": "draft"},
		map[string]any{"id": "3", "status": "published"},
	)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	count, err := s.Update(context.Background(), "posts", map[string]any{"status": "draft"}, map[string]any{"status": "published"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Update() = %d, want 2", count)
	}

	remaining, err := s.Query(context.Background(), "posts", provider.Query{Filter: map[string]any{"status": "draft"}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("drafts left after update: %v", remaining)
	}
}

func TestDeleteRemovesMatches(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Seed(context.Background(), "posts",
		map[string]any{"id": "1", "status": "draft"},
		map[string]any{"id": "2", "status": "published"},
	)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	count, err := s.Delete(context.Background(), "posts", map[string]any{"status": "draft"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Delete() = %d, want 1", count)
	}

	docs, err := s.Query(context.Background(), "posts", provider.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 1 || docs[0]["id"] != "2" {
		t.Errorf("Query() = %v, want only the published post", docs)
	}
}

func TestUnknownCollectionIsEmpty(t *testing.T) {
	t.Parallel()

	s := New()

	docs, err := s.Query(context.Background(), "nothing", provider.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Query() = %v, want empty", docs)
	}

	count, err := s.Delete(context.Background(), "nothing", map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Delete() = %d, want 0", count)
	}
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Query(ctx, "posts", provider.Query{}); err == nil {
		t.Error("Query() = nil error, want cancellation")
	}
	if _, err := s.Insert(ctx, "posts", map[string]any{}); err == nil {
		t.Error("Insert() = nil error, want cancellation")
	}
}
