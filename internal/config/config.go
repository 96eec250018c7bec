// Package config parses and validates the declarative application
// document: routes with operator pipelines, reusable middleware,
// database schemas, and server settings. Documents load from JSON or
// YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/deckrun/deck/internal/operator"
	"github.com/deckrun/deck/internal/pipeline"
)

// DefaultAddress is the listen address used when the document sets
// none.
const DefaultAddress = ":8080"

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownSchema     = errors.New("unknown schema reference")
	ErrUnknownMiddleware = errors.New("unknown middleware reference")
)

// Config is the root application document.
type Config struct {
	Database   *Database             `json:"database,omitempty" yaml:"database,omitempty"`
	Templates  *Templates            `json:"templates,omitempty" yaml:"templates,omitempty"`
	Routes     []Route               `json:"routes" yaml:"routes"`
	Middleware map[string]Middleware `json:"middleware,omitempty" yaml:"middleware,omitempty"`
	Schemas    map[string]any        `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	Server     Server                `json:"server,omitempty" yaml:"server,omitempty"`
}

// Server holds listener settings.
type Server struct {
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// RequestsPerSecond caps the accepted request rate; zero means
	// unlimited.
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty" yaml:"requestsPerSecond,omitempty"`
}

// Database configures the storage provider: an optional bbolt file
// path (empty means in-memory), per-collection schemas, and startup
// seed documents.
type Database struct {
	Path    string                      `json:"path,omitempty" yaml:"path,omitempty"`
	Schemas map[string]CollectionSchema `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	Seed    map[string][]map[string]any `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// CollectionSchema describes one collection.
type CollectionSchema struct {
	Fields  map[string]Field `json:"fields" yaml:"fields"`
	Indexes []Index          `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Field is one field definition of a collection schema.
type Field struct {
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Primary  bool   `json:"primary,omitempty" yaml:"primary,omitempty"`
	Unique   bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
	Enum     []any  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items    *Field `json:"items,omitempty" yaml:"items,omitempty"`
}

// Index is one index definition of a collection schema.
type Index struct {
	Fields []string `json:"fields" yaml:"fields"`
	Unique bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// Templates points at named template files used by string rendering.
type Templates struct {
	Path   string            `json:"path" yaml:"path"`
	Engine string            `json:"engine,omitempty" yaml:"engine,omitempty"`
	Files  map[string]string `json:"files,omitempty" yaml:"files,omitempty"`
}

// Middleware is a reusable pipeline fragment routes reference by
// name. Middleware can bind variables for later steps or short-circuit
// with an early return.
type Middleware struct {
	Pipeline []pipeline.Step `json:"pipeline" yaml:"pipeline"`
}

// Route binds a method and path pattern to a pipeline and its
// response.
type Route struct {
	Path       string          `json:"path" yaml:"path"`
	Method     string          `json:"method" yaml:"method"`
	Middleware []string        `json:"middleware,omitempty" yaml:"middleware,omitempty"`
	Pipeline   []pipeline.Step `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Response   Response        `json:"response" yaml:"response"`
}

// Response is either a static {status, headers, body} document or a
// bare operator expression evaluated against the final context.
type Response struct {
	Static      *StaticResponse
	Conditional operator.Expr
}

// StaticResponse is the fixed-status response form. Header values and
// the body are operator expressions.
type StaticResponse struct {
	Status  int
	Headers map[string]operator.Expr
	Body    operator.Expr
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: response: %v", ErrInvalidConfig, err)
	}
	return r.fromRaw(raw)
}

func (r *Response) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("%w: response: %v", ErrInvalidConfig, err)
	}
	return r.fromRaw(raw)
}

// fromRaw picks the response form: an object carrying a literal
// "status" key is static, anything else is a conditional expression.
func (r *Response) fromRaw(raw any) error {
	object, ok := raw.(map[string]any)
	if !ok {
		return r.decodeConditional(raw)
	}
	rawStatus, ok := object["status"]
	if !ok {
		return r.decodeConditional(raw)
	}

	for key := range object {
		switch key {
		case "status", "headers", "body":
		default:
			return fmt.Errorf("%w: response has unknown field %q", ErrInvalidConfig, key)
		}
	}

	status, ok := asStatus(rawStatus)
	if !ok {
		return fmt.Errorf("%w: response status must be an integer between 100 and 599", ErrInvalidConfig)
	}

	static := &StaticResponse{Status: status, Body: operator.Literal{}}

	if rawHeaders, present := object["headers"]; present {
		headerObject, ok := rawHeaders.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: response headers must be an object", ErrInvalidConfig)
		}
		static.Headers = make(map[string]operator.Expr, len(headerObject))
		for name, rawValue := range headerObject {
			expr, err := operator.Decode(rawValue)
			if err != nil {
				return fmt.Errorf("response header %q: %w", name, err)
			}
			static.Headers[name] = expr
		}
	}

	if rawBody, present := object["body"]; present {
		body, err := operator.Decode(rawBody)
		if err != nil {
			return fmt.Errorf("response body: %w", err)
		}
		static.Body = body
	}

	r.Static = static
	return nil
}

func (r *Response) decodeConditional(raw any) error {
	expr, err := operator.Decode(raw)
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}
	r.Conditional = expr
	return nil
}

func asStatus(raw any) (int, bool) {
	var status float64
	switch n := raw.(type) {
	case float64:
		status = n
	case int:
		status = float64(n)
	case int64:
		status = float64(n)
	case uint64:
		status = float64(n)
	default:
		return 0, false
	}
	if status < 100 || status > 599 || status != float64(int(status)) {
		return 0, false
	}
	return int(status), true
}

// Load reads, parses, validates, and resolves a configuration file.
// YAML is chosen by file extension, everything else parses as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.resolveSchemaRefs(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks structural invariants that would otherwise surface
// as runtime failures mid-request.
func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("%w: no routes defined", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		where := fmt.Sprintf("route %d (%s %s)", i, route.Method, route.Path)

		if !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("%w: %s: path must start with /", ErrInvalidConfig, where)
		}
		if !knownMethods[route.Method] {
			return fmt.Errorf("%w: %s: unknown method %q", ErrInvalidConfig, where, route.Method)
		}
		key := route.Method + " " + route.Path
		if seen[key] {
			return fmt.Errorf("%w: duplicate route %s", ErrInvalidConfig, key)
		}
		seen[key] = true

		if route.Response.Static == nil && route.Response.Conditional == nil {
			return fmt.Errorf("%w: %s: missing response", ErrInvalidConfig, where)
		}

		names := map[string]bool{
			pipeline.VarParams:  true,
			pipeline.VarQuery:   true,
			pipeline.VarHeaders: true,
			pipeline.VarBody:    true,
		}
		for _, ref := range route.Middleware {
			mw, ok := c.Middleware[ref]
			if !ok {
				return fmt.Errorf("%w: %s: %q", ErrUnknownMiddleware, where, ref)
			}
			if err := checkStepNames(names, mw.Pipeline); err != nil {
				return fmt.Errorf("%w: %s: middleware %q: %v", ErrInvalidConfig, where, ref, err)
			}
		}
		if err := checkStepNames(names, route.Pipeline); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, where, err)
		}
	}

	return nil
}

// checkStepNames rejects step names that would collide at bind time,
// including names taken by an earlier middleware or the reserved
// request variables.
func checkStepNames(taken map[string]bool, steps []pipeline.Step) error {
	for _, step := range steps {
		if step.Name == "" {
			continue
		}
		if taken[step.Name] {
			return fmt.Errorf("step name %q already in use", step.Name)
		}
		taken[step.Name] = true
	}
	return nil
}

// resolveSchemaRefs replaces string schema arguments of validation
// operators with the named document from the top-level schemas map, so
// the executor never sees a reference.
func (c *Config) resolveSchemaRefs() error {
	resolve := func(steps []pipeline.Step) error {
		for i := range steps {
			expr, err := resolveExprSchemas(steps[i].Value.Expr, c.Schemas)
			if err != nil {
				return err
			}
			steps[i].Value.Expr = expr
		}
		return nil
	}

	for name, mw := range c.Middleware {
		if err := resolve(mw.Pipeline); err != nil {
			return fmt.Errorf("middleware %q: %w", name, err)
		}
	}
	for i := range c.Routes {
		route := &c.Routes[i]
		if err := resolve(route.Pipeline); err != nil {
			return fmt.Errorf("route %s %s: %w", route.Method, route.Path, err)
		}

		if route.Response.Conditional != nil {
			expr, err := resolveExprSchemas(route.Response.Conditional, c.Schemas)
			if err != nil {
				return fmt.Errorf("route %s %s: response: %w", route.Method, route.Path, err)
			}
			route.Response.Conditional = expr
		}
		if static := route.Response.Static; static != nil {
			expr, err := resolveExprSchemas(static.Body, c.Schemas)
			if err != nil {
				return fmt.Errorf("route %s %s: response body: %w", route.Method, route.Path, err)
			}
			static.Body = expr
			for name, header := range static.Headers {
				expr, err := resolveExprSchemas(header, c.Schemas)
				if err != nil {
					return fmt.Errorf("route %s %s: response header %q: %w", route.Method, route.Path, name, err)
				}
				static.Headers[name] = expr
			}
		}
	}
	return nil
}

func resolveExprSchemas(expr operator.Expr, schemas map[string]any) (operator.Expr, error) {
	walk := func(sub operator.Expr) (operator.Expr, error) {
		return resolveExprSchemas(sub, schemas)
	}
	walkAll := func(subs []operator.Expr) ([]operator.Expr, error) {
		out := make([]operator.Expr, len(subs))
		for i, sub := range subs {
			resolved, err := walk(sub)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	walkMap := func(subs map[string]operator.Expr) (map[string]operator.Expr, error) {
		if subs == nil {
			return nil, nil
		}
		out := make(map[string]operator.Expr, len(subs))
		for name, sub := range subs {
			resolved, err := walk(sub)
			if err != nil {
				return nil, err
			}
			out[name] = resolved
		}
		return out, nil
	}
	walkOptional := func(sub operator.Expr) (operator.Expr, error) {
		if sub == nil {
			return nil, nil
		}
		return walk(sub)
	}

	switch node := expr.(type) {
	case operator.Validate:
		name, ok := node.Schema.(string)
		if !ok {
			return node, nil
		}
		resolved, present := schemas[name]
		if !present {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
		}
		checked, err := walk(node.Value)
		if err != nil {
			return nil, err
		}
		return operator.Validate{Value: checked, Schema: resolved}, nil

	case operator.If:
		cond, err := walk(node.Cond)
		if err != nil {
			return nil, err
		}
		then, err := walk(node.Then)
		if err != nil {
			return nil, err
		}
		elseBranch, err := walkOptional(node.Else)
		if err != nil {
			return nil, err
		}
		return operator.If{Cond: cond, Then: then, Else: elseBranch}, nil

	case operator.Switch:
		on, err := walk(node.On)
		if err != nil {
			return nil, err
		}
		cases := make([]operator.SwitchCase, len(node.Cases))
		for i, branch := range node.Cases {
			then, err := walk(branch.Then)
			if err != nil {
				return nil, err
			}
			cases[i] = operator.SwitchCase{When: branch.When, Then: then}
		}
		defaultBranch, err := walkOptional(node.Default)
		if err != nil {
			return nil, err
		}
		return operator.Switch{On: on, Cases: cases, Default: defaultBranch}, nil

	case operator.Map:
		items, err := walk(node.Items)
		if err != nil {
			return nil, err
		}
		body, err := walk(node.Body)
		if err != nil {
			return nil, err
		}
		return operator.Map{Items: items, As: node.As, Body: body}, nil

	case operator.Filter:
		items, err := walk(node.Items)
		if err != nil {
			return nil, err
		}
		predicate, err := walk(node.Predicate)
		if err != nil {
			return nil, err
		}
		return operator.Filter{Items: items, As: node.As, Predicate: predicate}, nil

	case operator.Reduce:
		items, err := walk(node.Items)
		if err != nil {
			return nil, err
		}
		initial, err := walk(node.Initial)
		if err != nil {
			return nil, err
		}
		body, err := walk(node.Body)
		if err != nil {
			return nil, err
		}
		return operator.Reduce{Items: items, As: node.As, Acc: node.Acc, Initial: initial, Body: body}, nil

	case operator.Compare:
		left, err := walk(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := walk(node.Right)
		if err != nil {
			return nil, err
		}
		return operator.Compare{Op: node.Op, Left: left, Right: right}, nil

	case operator.Logic:
		operands, err := walkAll(node.Operands)
		if err != nil {
			return nil, err
		}
		return operator.Logic{Op: node.Op, Operands: operands}, nil

	case operator.Not:
		operand, err := walk(node.Operand)
		if err != nil {
			return nil, err
		}
		return operator.Not{Operand: operand}, nil

	case operator.Math:
		operands, err := walkAll(node.Operands)
		if err != nil {
			return nil, err
		}
		return operator.Math{Op: node.Op, Operands: operands}, nil

	case operator.Merge:
		objects, err := walkAll(node.Objects)
		if err != nil {
			return nil, err
		}
		return operator.Merge{Objects: objects}, nil

	case operator.Exists:
		inner, err := walk(node.Value)
		if err != nil {
			return nil, err
		}
		return operator.Exists{Value: inner}, nil

	case operator.RenderString:
		tmpl, err := walk(node.Template)
		if err != nil {
			return nil, err
		}
		vars, err := walkOptional(node.Vars)
		if err != nil {
			return nil, err
		}
		return operator.RenderString{Template: tmpl, Vars: vars}, nil

	case operator.Return:
		inner, err := walk(node.Value)
		if err != nil {
			return nil, err
		}
		return operator.Return{Value: inner}, nil

	case operator.DBQuery:
		filter, err := walkMap(node.Filter)
		if err != nil {
			return nil, err
		}
		node.Filter = filter
		return node, nil

	case operator.DBInsert:
		document, err := walkMap(node.Document)
		if err != nil {
			return nil, err
		}
		node.Document = document
		return node, nil

	case operator.DBUpdate:
		filter, err := walkMap(node.Filter)
		if err != nil {
			return nil, err
		}
		update, err := walkMap(node.Update)
		if err != nil {
			return nil, err
		}
		node.Filter = filter
		node.Update = update
		return node, nil

	case operator.DBDelete:
		filter, err := walkMap(node.Filter)
		if err != nil {
			return nil, err
		}
		node.Filter = filter
		return node, nil

	default:
		return expr, nil
	}
}
