package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deckrun/deck/internal/pipeline"
)

func TestFromHTTPDecodesJSONBody(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("POST", "/posts?draft=true", strings.NewReader(`{"title": "hello"}`))
	r.Header.Set("Authorization", "Bearer token")

	req, err := FromHTTP(r, map[string]string{"id": "42"})
	if err != nil {
		t.Fatalf("FromHTTP() error = %v", err)
	}

	if req.Method() != "POST" || req.Path() != "/posts" {
		t.Errorf("method/path = %s %s", req.Method(), req.Path())
	}
	if req.Params()["id"] != "42" {
		t.Errorf("params = %v, want id=42", req.Params())
	}
	if req.Query()["draft"] != "true" {
		t.Errorf("query = %v, want draft=true", req.Query())
	}
	if req.Headers()["authorization"] != "Bearer token" {
		t.Errorf("headers = %v, want lowercased authorization", req.Headers())
	}

	want := map[string]any{"title": "hello"}
	if diff := cmp.Diff(want, req.Body()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestFromHTTPKeepsNonJSONBodyAsString(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("POST", "/notes", strings.NewReader("plain text"))

	req, err := FromHTTP(r, nil)
	if err != nil {
		t.Fatalf("FromHTTP() error = %v", err)
	}
	if req.Body() != "plain text" {
		t.Errorf("body = %v, want raw string", req.Body())
	}
}

func TestFromHTTPEmptyBodyIsNull(t *testing.T) {
	t.Parallel()

	req, err := FromHTTP(httptest.NewRequest("GET", "/posts", nil), nil)
	if err != nil {
		t.Fatalf("FromHTTP() error = %v", err)
	}
	if req.Body() != nil {
		t.Errorf("body = %v, want nil", req.Body())
	}
}

func TestSeedBindsReservedVariables(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/posts/42?full=yes", nil)
	req, err := FromHTTP(r, map[string]string{"id": "42"})
	if err != nil {
		t.Fatalf("FromHTTP() error = %v", err)
	}

	scope, err := Seed(req)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	id, err := scope.Lookup("params.id")
	if err != nil {
		t.Fatalf("Lookup(params.id) error = %v", err)
	}
	if id != "42" {
		t.Errorf("params.id = %v, want 42", id)
	}

	full, err := scope.Lookup("query.full")
	if err != nil {
		t.Fatalf("Lookup(query.full) error = %v", err)
	}
	if full != "yes" {
		t.Errorf("query.full = %v, want yes", full)
	}

	body, ok := scope.Value(pipeline.VarBody)
	if !ok {
		t.Fatal("body not bound")
	}
	if body != nil {
		t.Errorf("body = %v, want nil", body)
	}
}
