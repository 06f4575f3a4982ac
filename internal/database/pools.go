package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketlake/internal/config"
	"github.com/rickgao/marketlake/internal/lake"
)

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig, appName string) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg, appName)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// pooledStore closes the pool it was built on.
type pooledStore struct {
	*lake.PostgresStore
	pool *pgxpool.Pool
}

func (p *pooledStore) Close() error {
	p.pool.Close()
	return nil
}

// OpenLake opens the lake backend selected by cfg.Lake.Backend.
// The caller owns the returned store and must Close it.
func OpenLake(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lake.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Lake.Backend {
	case config.BackendDuckDB:
		dc := lake.DuckDBConfig{Path: cfg.Lake.DuckDBPath}
		if cfg.Lake.DuckLake.Enabled {
			dc.DuckLake = &lake.DuckLakeConfig{
				CatalogPath:    cfg.Lake.DuckLake.CatalogPath,
				CatalogName:    cfg.Lake.DuckLake.CatalogName,
				DataPath:       cfg.Lake.DuckLake.DataPath,
				MetadataSchema: cfg.Lake.DuckLake.MetadataSchema,
			}
		}
		s, err := lake.OpenDuckDB(ctx, dc, logger)
		if err != nil {
			return nil, fmt.Errorf("open duckdb lake: %w", err)
		}
		return s, nil

	case config.BackendPostgres:
		pool, err := Connect(ctx, cfg.Database.Postgres, cfg.Instance.ID)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("postgres lake connected",
			"host", cfg.Database.Postgres.Host,
			"database", cfg.Database.Postgres.Name,
			"schema", cfg.Lake.Schema,
		)
		return &pooledStore{
			PostgresStore: lake.NewPostgresStore(pool, cfg.Lake.Schema, logger),
			pool:          pool,
		}, nil

	case config.BackendMemory:
		logger.Warn("using in-memory lake, nothing will be persisted")
		return lake.NewMemoryStore(), nil
	}

	return nil, fmt.Errorf("unknown lake backend %q", cfg.Lake.Backend)
}
