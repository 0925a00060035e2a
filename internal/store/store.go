// Package store selects the session store backend.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/hirebot/internal/screening"
	"github.com/spigell/hirebot/internal/store/memory"
	"github.com/spigell/hirebot/internal/store/postgres"
	"github.com/spigell/hirebot/internal/store/sqlite"
	"go.uber.org/zap"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config mirrors the storage section of the configuration file.
type Config struct {
	Backend  string
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// Open returns the configured store and a function releasing its resources.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (screening.Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return memory.New(), noop, nil
	case BackendSQLite:
		path := cfg.SQLite.Path
		if strings.TrimSpace(path) == "" {
			path = "hirebot.db"
		}
		s, err := sqlite.Open(ctx, path, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendPostgres:
		s, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns}, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
