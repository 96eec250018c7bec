package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/deckrun/deck/internal/config"
	"github.com/deckrun/deck/internal/engine"
	"github.com/deckrun/deck/internal/exit"
	"github.com/deckrun/deck/internal/provider"
	"github.com/deckrun/deck/internal/request"
	"github.com/deckrun/deck/internal/server"
	"github.com/deckrun/deck/internal/store/bolt"
	"github.com/deckrun/deck/internal/store/memory"
)

// Run executes the parsed command and returns an exit result to
// print.
func Run(ctx context.Context, cfg *Config) *exit.Result {
	app, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return exit.Errorf("Error: %v\n", err)
	}

	if cfg.Mode == ModeCheck {
		return exit.Successf("configuration OK: %d routes, %d middleware, %d schemas\n",
			len(app.Routes), len(app.Middleware), len(app.Schemas))
	}

	db, cleanup, err := openDatabase(ctx, app)
	if err != nil {
		return exit.Errorf("Error: %v\n", err)
	}
	defer cleanup()

	srv := server.New(app, engine.New(db, nil), os.Stderr)

	switch cfg.Mode {
	case ModeServe:
		if err := srv.Run(ctx); err != nil {
			return exit.Errorf("Error: %v\n", err)
		}
		return exit.Success("")
	case ModeEval:
		return runEval(ctx, srv, cfg)
	default:
		return exit.Errorf("Error: unknown mode\n")
	}
}

// openDatabase builds the configured store: bbolt when a path is set,
// in-memory otherwise, with seed documents applied either way.
func openDatabase(ctx context.Context, app *config.Config) (provider.Database, func(), error) {
	noop := func() {}

	if app.Database == nil {
		return memory.New(), noop, nil
	}

	if app.Database.Path == "" {
		db := memory.New()
		for collection, docs := range app.Database.Seed {
			if err := db.Seed(ctx, collection, docs...); err != nil {
				return nil, noop, fmt.Errorf("seed %s: %w", collection, err)
			}
		}
		return db, noop, nil
	}

	db, err := bolt.Open(app.Database.Path)
	if err != nil {
		return nil, noop, err
	}
	for collection, docs := range app.Database.Seed {
		for _, doc := range docs {
			if _, err := db.Insert(ctx, collection, doc); err != nil {
				db.Close()
				return nil, noop, fmt.Errorf("seed %s: %w", collection, err)
			}
		}
	}
	return db, func() { db.Close() }, nil
}

func runEval(ctx context.Context, srv *server.Server, cfg *Config) *exit.Result {
	var body any
	if cfg.Body != "" {
		if err := json.Unmarshal([]byte(cfg.Body), &body); err != nil {
			body = cfg.Body
		}
	}

	req := request.Synthetic(cfg.Method, cfg.Path, cfg.Params, cfg.Query, cfg.Headers, body)
	status, result, err := srv.RunOffline(ctx, cfg.Method, cfg.Path, req)
	if err != nil {
		return exit.Errorf("Error: %v\n", err)
	}

	encoded, err := json.MarshalIndent(map[string]any{
		"status": status,
		"body":   result,
	}, "", "  ")
	if err != nil {
		return exit.Errorf("Error: %v\n", err)
	}
	return exit.Success(string(encoded) + "\n")
}
