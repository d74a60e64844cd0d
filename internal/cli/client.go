package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	draftsync "github.com/jdziat/simple-draft-sync"
	"github.com/jdziat/simple-draft-sync/internal/config"
	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/localstore"
)

type closableStore interface {
	core.LocalStore
	Close() error
}

// openStore opens the configured offline edit store.
func openStore(ctx context.Context, cfg config.StoreConfig) (core.LocalStore, func() error, error) {
	var (
		store closableStore
		err   error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		return localstore.NewMemoryStore(), func() error { return nil }, nil
	case config.DriverSQLite:
		store, err = localstore.OpenSQLite(ctx, cfg.DSN)
	case config.DriverPostgres:
		store, err = localstore.OpenPostgres(ctx, cfg.DSN)
	case config.DriverRedis:
		store, err = localstore.OpenRedis(ctx, cfg.DSN, cfg.Namespace)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, store.Close, nil
}

// openClient builds a Client from the loaded configuration. The returned
// function closes the client and then its store.
func openClient(ctx context.Context, opts *RootOptions) (*draftsync.Client, func(), error) {
	cfg := opts.Config
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	clientOpts := []draftsync.Option{
		draftsync.WithBaseURL(cfg.BaseURL),
		draftsync.WithToken(cfg.Token),
		draftsync.WithLocalStore(store),
		draftsync.WithLogger(opts.Logger),
		draftsync.WithDebounce(cfg.Debounce),
		draftsync.WithPollInterval(cfg.PollInterval),
		draftsync.WithJobTimeout(cfg.JobTimeout),
		draftsync.WithPushReconnect(cfg.PushReconnect),
		draftsync.WithOfflineBackoff(draftsync.BackoffConfig{
			Base:        cfg.Backoff.Base,
			Max:         cfg.Backoff.Max,
			MaxAttempts: cfg.Backoff.MaxAttempts,
		}),
	}
	switch cfg.Push {
	case config.PushSSE:
		clientOpts = append(clientOpts, draftsync.WithSSE())
	case config.PushWebSocket:
		clientOpts = append(clientOpts, draftsync.WithWebSocket())
	}

	client, err := draftsync.New(clientOpts...)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return client, func() {
		if err := client.Close(); err != nil {
			opts.Logger.Error("closing client", "error", err)
		}
		if err := closeStore(); err != nil {
			opts.Logger.Error("closing store", "error", err)
		}
	}, nil
}

// parseFields turns key=value pairs into a field mapping. Values that parse
// as JSON keep their JSON type; anything else is a string.
func parseFields(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
