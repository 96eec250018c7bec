package operator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecodeLiterals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
		want any
	}{
		{name: "scalar", raw: float64(42), want: float64(42)},
		{name: "null", raw: nil, want: nil},
		{name: "array", raw: []any{"a", "b"}, want: []any{"a", "b"}},
		{
			name: "plain object",
			raw:  map[string]any{"title": "hello"},
			want: map[string]any{"title": "hello"},
		},
		{
			name: "two keys stay literal even with dollar prefix",
			raw:  map[string]any{"$get": "x", "extra": true},
			want: map[string]any{"$get": "x", "extra": true},
		},
		{
			name: "empty object",
			raw:  map[string]any{},
			want: map[string]any{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			expr, err := Decode(tc.raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			literal, ok := expr.(Literal)
			if !ok {
				t.Fatalf("Decode() = %T, want Literal", expr)
			}
			if diff := cmp.Diff(tc.want, literal.Value); diff != "" {
				t.Errorf("literal mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want Expr
	}{
		{
			name: "get",
			doc:  `{"$get": "user.email"}`,
			want: Get{Path: "user.email"},
		},
		{
			name: "jsonpath",
			doc:  `{"$jsonPath": "$.items[*].id"}`,
			want: JSONPathQuery{Path: "$.items[*].id"},
		},
		{
			name: "if with condition alias",
			doc:  `{"$if": {"condition": true, "then": 1, "else": 2}}`,
			want: If{Cond: Literal{Value: true}, Then: Literal{Value: float64(1)}, Else: Literal{Value: float64(2)}},
		},
		{
			name: "if without else",
			doc:  `{"$if": {"cond": true, "then": 1}}`,
			want: If{Cond: Literal{Value: true}, Then: Literal{Value: float64(1)}},
		},
		{
			name: "switch",
			doc:  `{"$switch": {"on": {"$get": "x"}, "cases": [{"when": "a", "then": 1}]}}`,
			want: Switch{
				On:    Get{Path: "x"},
				Cases: []SwitchCase{{When: "a", Then: Literal{Value: float64(1)}}},
			},
		},
		{
			name: "map defaults item binding",
			doc:  `{"$map": {"items": {"$get": "xs"}, "body": {"$get": "item"}}}`,
			want: Map{Items: Get{Path: "xs"}, As: "item", Body: Get{Path: "item"}},
		},
		{
			name: "filter with custom binding",
			doc:  `{"$filter": {"items": {"$get": "xs"}, "as": "x", "predicate": {"$get": "x"}}}`,
			want: Filter{Items: Get{Path: "xs"}, As: "x", Predicate: Get{Path: "x"}},
		},
		{
			name: "reduce defaults acc binding",
			doc:  `{"$reduce": {"items": {"$get": "xs"}, "initial": 0, "body": {"$get": "acc"}}}`,
			want: Reduce{Items: Get{Path: "xs"}, As: "item", Acc: "acc", Initial: Literal{Value: float64(0)}, Body: Get{Path: "acc"}},
		},
		{
			name: "comparison array form",
			doc:  `{"$eq": [{"$get": "a"}, 1]}`,
			want: Compare{Op: CompareEq, Left: Get{Path: "a"}, Right: Literal{Value: float64(1)}},
		},
		{
			name: "comparison object form",
			doc:  `{"$gt": {"left": {"$get": "a"}, "right": 1}}`,
			want: Compare{Op: CompareGt, Left: Get{Path: "a"}, Right: Literal{Value: float64(1)}},
		},
		{
			name: "and",
			doc:  `{"$and": [true, false]}`,
			want: Logic{Op: LogicAnd, Operands: []Expr{Literal{Value: true}, Literal{Value: false}}},
		},
		{
			name: "or conditions object form",
			doc:  `{"$or": {"conditions": [{"$get": "a"}, true]}}`,
			want: Logic{Op: LogicOr, Operands: []Expr{Get{Path: "a"}, Literal{Value: true}}},
		},
		{
			name: "not",
			doc:  `{"$not": {"$get": "flag"}}`,
			want: Not{Operand: Get{Path: "flag"}},
		},
		{
			name: "add",
			doc:  `{"$add": [1, 2, 3]}`,
			want: Math{Op: MathAdd, Operands: []Expr{Literal{Value: float64(1)}, Literal{Value: float64(2)}, Literal{Value: float64(3)}}},
		},
		{
			name: "divide",
			doc:  `{"$divide": [10, 2]}`,
			want: Math{Op: MathDivide, Operands: []Expr{Literal{Value: float64(10)}, Literal{Value: float64(2)}}},
		},
		{
			name: "merge",
			doc:  `{"$merge": [{"a": 1}]}`,
			want: Merge{Objects: []Expr{Literal{Value: map[string]any{"a": float64(1)}}}},
		},
		{
			name: "exists",
			doc:  `{"$exists": {"$get": "user"}}`,
			want: Exists{Value: Get{Path: "user"}},
		},
		{
			name: "now with null payload",
			doc:  `{"$now": null}`,
			want: Now{},
		},
		{
			name: "now with empty object payload",
			doc:  `{"$now": {}}`,
			want: Now{},
		},
		{
			name: "render string bare template",
			doc:  `{"$renderString": "hi {{name}}"}`,
			want: RenderString{Template: Literal{Value: "hi {{name}}"}},
		},
		{
			name: "render string with vars",
			doc:  `{"$renderString": {"template": "hi {{name}}", "vars": {"$get": "user"}}}`,
			want: RenderString{Template: Literal{Value: "hi {{name}}"}, Vars: Get{Path: "user"}},
		},
		{
			name: "return",
			doc:  `{"$return": {"$get": "result"}}`,
			want: Return{Value: Get{Path: "result"}},
		},
		{
			name: "validate with data alias",
			doc:  `{"$validate": {"data": {"$get": "body"}, "schema": {"type": "object"}}}`,
			want: Validate{Value: Get{Path: "body"}, Schema: map[string]any{"type": "object"}},
		},
		{
			name: "db query full form",
			doc: `{"$dbQuery": {"collection": "posts", "filter": {"status": "published"},
				"select": ["id"], "limit": 10, "skip": 5,
				"sort": [{"field": "created", "order": "desc"}]}}`,
			want: DBQuery{
				Collection: "posts",
				Filter:     map[string]Expr{"status": Literal{Value: "published"}},
				Select:     []string{"id"},
				Limit:      10,
				Skip:       5,
				Sort:       []SortField{{Field: "created", Desc: true}},
			},
		},
		{
			name: "db query sort object form",
			doc:  `{"$dbQuery": {"collection": "posts", "sort": {"created": "asc"}}}`,
			want: DBQuery{Collection: "posts", Sort: []SortField{{Field: "created", Desc: false}}},
		},
		{
			name: "db insert",
			doc:  `{"$dbInsert": {"collection": "posts", "document": {"title": {"$get": "body.title"}}}}`,
			want: DBInsert{Collection: "posts", Document: map[string]Expr{"title": Get{Path: "body.title"}}},
		},
		{
			name: "db update",
			doc:  `{"$dbUpdate": {"collection": "posts", "filter": {"id": "1"}, "update": {"status": "done"}}}`,
			want: DBUpdate{
				Collection: "posts",
				Filter:     map[string]Expr{"id": Literal{Value: "1"}},
				Update:     map[string]Expr{"status": Literal{Value: "done"}},
			},
		},
		{
			name: "db delete",
			doc:  `{"$dbDelete": {"collection": "posts", "filter": {"id": "1"}}}`,
			want: DBDelete{Collection: "posts", Filter: map[string]Expr{"id": Literal{Value: "1"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var node Node
			if err := json.Unmarshal([]byte(tc.doc), &node); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, node.Expr, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "unknown operator",
			doc:  `{"$frobnicate": 1}`,
			want: ErrUnknownOperator,
		},
		{
			name: "get with empty path",
			doc:  `{"$get": ""}`,
			want: ErrDecode,
		},
		{
			name: "get with non-string payload",
			doc:  `{"$get": 42}`,
			want: ErrDecode,
		},
		{
			name: "jsonpath syntax error",
			doc:  `{"$jsonPath": "$[unterminated"}`,
			want: ErrDecode,
		},
		{
			name: "if missing then",
			doc:  `{"$if": {"cond": true}}`,
			want: ErrDecode,
		},
		{
			name: "if with unknown field",
			doc:  `{"$if": {"cond": true, "then": 1, "otherwise": 2}}`,
			want: ErrDecode,
		},
		{
			name: "switch case missing when",
			doc:  `{"$switch": {"on": 1, "cases": [{"then": 2}]}}`,
			want: ErrDecode,
		},
		{
			name: "comparison wrong arity",
			doc:  `{"$eq": [1, 2, 3]}`,
			want: ErrDecode,
		},
		{
			name: "add too few operands",
			doc:  `{"$add": [1]}`,
			want: ErrDecode,
		},
		{
			name: "nested operand error surfaces",
			doc:  `{"$and": [true, {"$bogus": 1}]}`,
			want: ErrUnknownOperator,
		},
		{
			name: "and object form unknown field",
			doc:  `{"$and": {"conditions": [true], "extra": 1}}`,
			want: ErrDecode,
		},
		{
			name: "validate missing schema",
			doc:  `{"$validate": {"value": 1}}`,
			want: ErrDecode,
		},
		{
			name: "db query negative limit",
			doc:  `{"$dbQuery": {"collection": "posts", "limit": -1}}`,
			want: ErrDecode,
		},
		{
			name: "db query bad sort order",
			doc:  `{"$dbQuery": {"collection": "posts", "sort": {"created": "sideways"}}}`,
			want: ErrDecode,
		},
		{
			name: "db insert missing document",
			doc:  `{"$dbInsert": {"collection": "posts"}}`,
			want: ErrDecode,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var node Node
			err := json.Unmarshal([]byte(tc.doc), &node)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Unmarshal() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	doc := `
$if:
  cond:
    $get: params.id
  then:
    $dbQuery:
      collection: posts
      filter:
        id:
          $get: params.id
  else: null
`

	var node Node
	if err := yaml.Unmarshal([]byte(doc), &node); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}

	want := If{
		Cond: Get{Path: "params.id"},
		Then: DBQuery{
			Collection: "posts",
			Filter:     map[string]Expr{"id": Get{Path: "params.id"}},
		},
		Else: Literal{Value: nil},
	}
	if diff := cmp.Diff(want, node.Expr); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
}
