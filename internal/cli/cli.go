// Package cli parses the deck command line and drives the three
// commands: validate a configuration, serve it, or run one route
// offline.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/deckrun/deck/internal/exit"
)

var (
	ErrNoArguments     = errors.New("no arguments provided")
	ErrNoConfigFile    = errors.New("no configuration file specified")
	ErrNoMode          = errors.New("one of -check, -serve, or -eval is required")
	ErrMultipleModes   = errors.New("only one of -check, -serve, or -eval may be set")
	ErrInvalidKeyValue = errors.New("value must be in format name=value")
	ErrInvalidRoute    = errors.New("route must be in format \"METHOD /path\"")
)

// Mode selects the command to run.
type Mode int

const (
	ModeCheck Mode = iota
	ModeServe
	ModeEval
)

// Config is the parsed command line.
type Config struct {
	Mode       Mode
	ConfigFile string

	// Eval-only request shape.
	Method  string
	Path    string
	Params  map[string]string
	Query   map[string]string
	Headers map[string]string
	Body    string
}

// kvFlag implements flag.Value for repeatable name=value flags.
type kvFlag map[string]string

func (f kvFlag) String() string {
	var pairs []string
	for k, v := range f {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(pairs, ",")
}

func (f kvFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("%w, got: %s", ErrInvalidKeyValue, value)
	}
	f[strings.TrimSpace(parts[0])] = parts[1]
	return nil
}

// Parse parses command-line arguments into a validated Config. On
// failure or help it returns a nil config and the exit result to
// print.
func Parse(args []string) (*Config, *exit.Result) {
	if len(args) == 0 {
		return nil, exit.Errorf("Error: %v\n\n%s", ErrNoArguments, Usage())
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)

	var (
		check   = fs.Bool("check", false, "Validate the configuration and exit")
		serve   = fs.Bool("serve", false, "Serve the configuration over HTTP")
		eval    = fs.Bool("eval", false, "Run one route offline and print the outcome")
		route   = fs.String("route", "", "Route to evaluate, e.g. \"GET /posts/42\"")
		body    = fs.String("body", "", "Request body for -eval (JSON or raw string)")
		params  = make(kvFlag)
		query   = make(kvFlag)
		headers = make(kvFlag)
	)
	fs.Var(params, "param", "Path parameter in format name=value (repeatable)")
	fs.Var(query, "query", "Query parameter in format name=value (repeatable)")
	fs.Var(headers, "header", "Request header in format name=value (repeatable)")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, exit.Success(Usage())
		}
		return nil, exit.Errorf("Error: failed to parse arguments: %v\n\n%s", err, Usage())
	}

	modes := 0
	mode := ModeCheck
	if *check {
		modes++
	}
	if *serve {
		modes++
		mode = ModeServe
	}
	if *eval {
		modes++
		mode = ModeEval
	}
	switch {
	case modes == 0:
		return nil, exit.Errorf("Error: %v\n\n%s", ErrNoMode, Usage())
	case modes > 1:
		return nil, exit.Errorf("Error: %v\n\n%s", ErrMultipleModes, Usage())
	}

	files := fs.Args()
	if len(files) != 1 {
		return nil, exit.Errorf("Error: %v\n\n%s", ErrNoConfigFile, Usage())
	}

	cfg := &Config{
		Mode:       mode,
		ConfigFile: files[0],
		Params:     params,
		Query:      query,
		Headers:    headers,
		Body:       *body,
	}

	if mode == ModeEval {
		method, path, err := parseRoute(*route)
		if err != nil {
			return nil, exit.Errorf("Error: %v\n\n%s", err, Usage())
		}
		cfg.Method = method
		cfg.Path = path
	}

	return cfg, nil
}

func parseRoute(route string) (string, string, error) {
	parts := strings.Fields(route)
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "/") {
		return "", "", fmt.Errorf("%w, got: %q", ErrInvalidRoute, route)
	}
	return strings.ToUpper(parts[0]), parts[1], nil
}

// Usage returns the command-line help text.
func Usage() string {
	return `deck - declarative request-handling engine

Usage: deck [mode] [options] <config-file>

Modes (exactly one):
  -check                 Validate the configuration and exit
  -serve                 Serve the configuration over HTTP
  -eval                  Run one route offline and print the outcome

Eval options:
  -route "METHOD /path"  Route to evaluate, e.g. "GET /posts/42"
  -param NAME=VALUE      Path parameter (can be used multiple times)
  -query NAME=VALUE      Query parameter (can be used multiple times)
  -header NAME=VALUE     Request header (can be used multiple times)
  -body STRING           Request body (JSON or raw string)

Examples:
  deck -check app.yaml
  deck -serve app.yaml
  deck -eval app.json -route "GET /posts/42" -param id=42
  deck -eval app.json -route "POST /posts" -body '{"title": "hello"}'`
}
