// Package server serves a loaded configuration: it routes requests by
// method and :param path patterns, runs middleware and route pipelines
// through the engine, and renders responses with the documented
// error-to-status mapping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deckrun/deck/internal/config"
	"github.com/deckrun/deck/internal/engine"
	"github.com/deckrun/deck/internal/pipeline"
	"github.com/deckrun/deck/internal/ratelimit"
	"github.com/deckrun/deck/internal/request"
	"github.com/deckrun/deck/internal/value"
)

// Server dispatches requests to configured route pipelines. It is
// stateless per request; all shared state lives in the engine's
// providers.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	routes  []compiledRoute
	logf    func(format string, args ...any)
}

type compiledRoute struct {
	route    config.Route
	segments []segment
}

type segment struct {
	literal string
	param   string
}

// New compiles the configured routes. Log output goes to logWriter;
// nil disables logging.
func New(cfg *config.Config, eng *engine.Engine, logWriter io.Writer) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		limiter: ratelimit.New(cfg.Server.RequestsPerSecond),
		logf:    func(string, ...any) {},
	}
	if logWriter != nil {
		s.logf = func(format string, args ...any) {
			fmt.Fprintf(logWriter, format+"\n", args...)
		}
	}

	for _, route := range cfg.Routes {
		s.routes = append(s.routes, compiledRoute{
			route:    route,
			segments: compilePattern(route.Path),
		})
	}
	return s
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	if s.cfg.Server.Address == "" {
		return config.DefaultAddress
	}
	return s.cfg.Server.Address
}

// Run serves HTTP on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Address(), Handler: s}

	errs := make(chan error, 1)
	go func() {
		s.logf("listening on %s", s.Address())
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
		return
	}

	matched, params, pathExists := s.match(r.Method, r.URL.Path)
	if matched == nil {
		if pathExists {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
			return
		}
		writeError(w, http.StatusNotFound, "no_route", "no route for "+r.URL.Path, nil)
		return
	}

	status := s.handle(w, r, matched.route, params)
	s.logf("%s %s -> %d", r.Method, r.URL.Path, status)
}

// handle runs the full pipeline chain for one request and returns the
// status written.
func (s *Server) handle(w http.ResponseWriter, r *http.Request, route config.Route, params map[string]string) int {
	req, err := request.FromHTTP(r, params)
	if err != nil {
		return writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	scope, err := request.Seed(req)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}

	ctx := r.Context()

	// Middleware run first and may short-circuit: an early return from
	// a middleware becomes the final response.
	for _, name := range route.Middleware {
		outcome, err := s.engine.RunPipeline(ctx, s.cfg.Middleware[name].Pipeline, scope)
		if err != nil {
			return s.writeExecError(w, err)
		}
		if outcome.Returned {
			return s.writeValue(w, outcome.Value)
		}
	}

	outcome, err := s.engine.RunPipeline(ctx, route.Pipeline, scope)
	if err != nil {
		return s.writeExecError(w, err)
	}
	if outcome.Returned {
		return s.writeValue(w, outcome.Value)
	}

	return s.writeResponse(w, ctx, route.Response, scope)
}

// writeResponse renders the configured response against the final
// context.
func (s *Server) writeResponse(w http.ResponseWriter, ctx context.Context, response config.Response, scope *pipeline.Context) int {
	if response.Conditional != nil {
		result, err := s.engine.Eval(ctx, scope, response.Conditional)
		if err != nil {
			return s.writeExecError(w, err)
		}
		return s.writeValue(w, result)
	}

	static := response.Static
	headers := make(map[string]string, len(static.Headers))
	for name, expr := range static.Headers {
		result, err := s.engine.Eval(ctx, scope, expr)
		if err != nil {
			return s.writeExecError(w, err)
		}
		headers[name] = headerString(result)
	}
	body, err := s.engine.Eval(ctx, scope, static.Body)
	if err != nil {
		return s.writeExecError(w, err)
	}

	return writeBody(w, static.Status, headers, body)
}

// writeValue renders a pipeline-produced value. An object carrying a
// numeric "status" key is treated as a full response envelope;
// anything else is a 200 with the value as JSON body.
func (s *Server) writeValue(w http.ResponseWriter, v any) int {
	object, ok := v.(map[string]any)
	if !ok {
		return writeBody(w, http.StatusOK, nil, v)
	}
	rawStatus, ok := object["status"]
	if !ok {
		return writeBody(w, http.StatusOK, nil, v)
	}
	status, ok := value.ToFloat64(rawStatus)
	if !ok || status < 100 || status > 599 {
		return writeBody(w, http.StatusOK, nil, v)
	}

	headers := map[string]string{}
	if rawHeaders, present := object["headers"].(map[string]any); present {
		for name, hv := range rawHeaders {
			headers[name] = headerString(hv)
		}
	}
	return writeBody(w, int(status), headers, object["body"])
}

// Execution failures map onto HTTP statuses by taxonomy code.
func (s *Server) writeExecError(w http.ResponseWriter, err error) int {
	code, ok := pipeline.CodeOf(err)
	if !ok {
		return writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}

	status := http.StatusInternalServerError
	switch code {
	case pipeline.CodePathNotFound:
		status = http.StatusNotFound
	case pipeline.CodeValidationFailed:
		status = http.StatusBadRequest
	case pipeline.CodeTypeMismatch, pipeline.CodeDivisionByZero:
		status = http.StatusInternalServerError
	case pipeline.CodeStorage:
		status = http.StatusBadGateway
	case pipeline.CodeCancelled:
		status = http.StatusServiceUnavailable
	}

	var execErr *pipeline.Error
	details := []string(nil)
	message := err.Error()
	if errors.As(err, &execErr) {
		details = execErr.Details
		if execErr.Message != "" {
			message = execErr.Message
		}
	}
	return writeError(w, status, string(code), message, details)
}

func writeError(w http.ResponseWriter, status int, code, message string, details []string) int {
	body := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if len(details) > 0 {
		body["error"].(map[string]any)["details"] = details
	}
	return writeBody(w, status, nil, body)
}

func writeBody(w http.ResponseWriter, status int, headers map[string]string, body any) int {
	for name, v := range headers {
		w.Header().Set(name, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if body == nil {
		return status
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return status
	}
	return status
}

func headerString(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

// match finds the route for a method and path. pathExists reports
// whether any route matched the path regardless of method, for 405
// responses.
func (s *Server) match(method, path string) (*compiledRoute, map[string]string, bool) {
	parts := splitPath(path)
	pathExists := false

	for i := range s.routes {
		candidate := &s.routes[i]
		params, ok := matchSegments(candidate.segments, parts)
		if !ok {
			continue
		}
		pathExists = true
		if candidate.route.Method == method {
			return candidate, params, true
		}
	}
	return nil, nil, pathExists
}

func compilePattern(pattern string) []segment {
	parts := splitPath(pattern)
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, ":") {
			segments = append(segments, segment{param: part[1:]})
		} else {
			segments = append(segments, segment{literal: part})
		}
	}
	return segments
}

func matchSegments(segments []segment, parts []string) (map[string]string, bool) {
	if len(segments) != len(parts) {
		return nil, false
	}

	params := map[string]string{}
	for i, seg := range segments {
		if seg.param != "" {
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// RunOffline executes one route's pipelines outside an HTTP listener,
// for the eval command. The response body value is returned along with
// the status that would have been written.
func (s *Server) RunOffline(ctx context.Context, method, path string, req *request.HTTP) (int, any, error) {
	matched, captured, _ := s.match(method, path)
	if matched == nil {
		return http.StatusNotFound, nil, fmt.Errorf("no route for %s %s", method, path)
	}

	// Path captures from the pattern; explicitly supplied params win.
	params := captured
	for name, v := range req.Params() {
		params[name] = v
	}
	req = request.Synthetic(method, path, params, req.Query(), req.Headers(), req.Body())

	scope, err := request.Seed(req)
	if err != nil {
		return 0, nil, err
	}

	for _, name := range matched.route.Middleware {
		outcome, err := s.engine.RunPipeline(ctx, s.cfg.Middleware[name].Pipeline, scope)
		if err != nil {
			return 0, nil, err
		}
		if outcome.Returned {
			return offlineValue(outcome.Value)
		}
	}

	outcome, err := s.engine.RunPipeline(ctx, matched.route.Pipeline, scope)
	if err != nil {
		return 0, nil, err
	}
	if outcome.Returned {
		return offlineValue(outcome.Value)
	}

	if conditional := matched.route.Response.Conditional; conditional != nil {
		result, err := s.engine.Eval(ctx, scope, conditional)
		if err != nil {
			return 0, nil, err
		}
		return offlineValue(result)
	}

	static := matched.route.Response.Static
	body, err := s.engine.Eval(ctx, scope, static.Body)
	if err != nil {
		return 0, nil, err
	}
	return static.Status, body, nil
}

func offlineValue(v any) (int, any, error) {
	object, ok := v.(map[string]any)
	if !ok {
		return http.StatusOK, v, nil
	}
	if status, ok := value.ToFloat64(object["status"]); ok && status >= 100 && status <= 599 {
		return int(status), object["body"], nil
	}
	return http.StatusOK, v, nil
}

