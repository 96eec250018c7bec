// Package request adapts incoming HTTP requests to the executor's
// request capability and seeds the pipeline context from them.
package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deckrun/deck/internal/pipeline"
	"github.com/deckrun/deck/internal/provider"
)

// HTTP is a provider.Request backed by a decoded net/http request.
type HTTP struct {
	method  string
	path    string
	params  map[string]string
	query   map[string]string
	headers map[string]string
	body    any
}

// FromHTTP captures an incoming request. params are the path captures
// matched by the router. The body is decoded as JSON when possible and
// kept as a raw string otherwise; an empty body stays null.
func FromHTTP(r *http.Request, params map[string]string) (*HTTP, error) {
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	// Header names are lowercased so pipelines address them
	// predictably, e.g. headers.authorization.
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	var body any
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				body = string(raw)
			}
		}
	}

	if params == nil {
		params = map[string]string{}
	}

	return &HTTP{
		method:  r.Method,
		path:    r.URL.Path,
		params:  params,
		query:   query,
		headers: headers,
		body:    body,
	}, nil
}

// Synthetic builds a request without a network listener, for offline
// pipeline runs.
func Synthetic(method, path string, params, query, headers map[string]string, body any) *HTTP {
	if params == nil {
		params = map[string]string{}
	}
	if query == nil {
		query = map[string]string{}
	}
	lowered := make(map[string]string, len(headers))
	for name, v := range headers {
		lowered[strings.ToLower(name)] = v
	}

	return &HTTP{
		method:  method,
		path:    path,
		params:  params,
		query:   query,
		headers: lowered,
		body:    body,
	}
}

func (r *HTTP) Method() string             { return r.method }
func (r *HTTP) Path() string               { return r.path }
func (r *HTTP) Params() map[string]string  { return r.params }
func (r *HTTP) Query() map[string]string   { return r.query }
func (r *HTTP) Headers() map[string]string { return r.headers }
func (r *HTTP) Body() any                  { return r.body }

// Seed builds a fresh pipeline context with the reserved request
// variables bound.
func Seed(req provider.Request) (*pipeline.Context, error) {
	scope := pipeline.NewContext()

	bindings := []struct {
		name  string
		value any
	}{
		{pipeline.VarParams, stringObject(req.Params())},
		{pipeline.VarQuery, stringObject(req.Query())},
		{pipeline.VarHeaders, stringObject(req.Headers())},
		{pipeline.VarBody, req.Body()},
	}
	for _, binding := range bindings {
		if err := scope.Bind(binding.name, binding.value); err != nil {
			return nil, fmt.Errorf("seed context: %w", err)
		}
	}
	return scope, nil
}

func stringObject(values map[string]string) map[string]any {
	object := make(map[string]any, len(values))
	for name, v := range values {
		object[name] = v
	}
	return object
}
