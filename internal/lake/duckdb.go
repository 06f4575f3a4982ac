package lake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDBConfig configures a DuckDBStore.
type DuckDBConfig struct {
	Path     string // Database file; empty for an in-memory database
	DuckLake *DuckLakeConfig
}

// DuckLakeConfig attaches a DuckLake catalog and stores every table in it.
type DuckLakeConfig struct {
	CatalogPath    string // e.g. "ducklake:metadata.ducklake" or "ducklake:postgres:..."
	CatalogName    string
	DataPath       string
	MetadataSchema string
}

// DuckDBStore is a Store backed by DuckDB through database/sql.
type DuckDBStore struct {
	db     *sql.DB
	d      dialect
	logger *slog.Logger

	ensureMu sync.Mutex
	ensured  map[string]bool
}

// OpenDuckDB opens the database and attaches the DuckLake catalog if configured.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	s := &DuckDBStore{
		db:      db,
		d:       duckdbDialect,
		logger:  logger,
		ensured: make(map[string]bool),
	}

	if cfg.DuckLake != nil {
		if err := s.attach(ctx, *cfg.DuckLake); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("duckdb lake opened", "path", cfg.Path, "ducklake", cfg.DuckLake != nil)
	return s, nil
}

func (s *DuckDBStore) attach(ctx context.Context, lc DuckLakeConfig) error {
	for _, q := range []string{"INSTALL ducklake", "LOAD ducklake"} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(q), err)
		}
	}

	opts := []string{"TYPE ducklake"}
	if lc.DataPath != "" {
		opts = append(opts, fmt.Sprintf("DATA_PATH %s", quoteLiteral(lc.DataPath)))
	}
	if lc.MetadataSchema != "" {
		opts = append(opts, fmt.Sprintf("METADATA_SCHEMA %s", quoteLiteral(lc.MetadataSchema)))
	}
	q := fmt.Sprintf("ATTACH %s AS %s (%s)", quoteLiteral(lc.CatalogPath), quoteIdent(lc.CatalogName), strings.Join(opts, ", "))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("attach ducklake catalog %s: %w", lc.CatalogName, err)
	}

	// DuckLake catalogs have no primary keys.
	s.d = s.d.withPrefix(quoteIdent(lc.CatalogName))
	s.d.uniqueVersions = false
	s.logger.Info("ducklake catalog attached", "catalog", lc.CatalogName, "data_path", lc.DataPath)
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ensureTable creates the table and its version row once per store.
func (s *DuckDBStore) ensureTable(ctx context.Context, def TableDef) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if s.ensured[def.Name] {
		return nil
	}
	for _, q := range []string{s.d.createVersions(), s.d.createTable(def)} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, mapDuckDBErr(err))
		}
	}
	if _, err := s.db.ExecContext(ctx, s.d.insertVersion(), def.Name); err != nil {
		return fmt.Errorf("init version %s: %w", def.Name, mapDuckDBErr(err))
	}
	s.ensured[def.Name] = true
	return nil
}

// ReadAll implements Store.
func (s *DuckDBStore) ReadAll(ctx context.Context, def TableDef) ([]Row, int64, error) {
	if err := s.ensureTable(ctx, def); err != nil {
		return nil, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin read %s: %w", def.Name, err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx, s.d.selectVersion(), def.Name).Scan(&version); err != nil {
		return nil, 0, fmt.Errorf("read version %s: %w", def.Name, err)
	}

	rows, err := tx.QueryContext(ctx, s.d.selectAll(def))
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", def.Name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		dests := scanDests(def)
		if err := rows.Scan(dests...); err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", def.Name, err)
		}
		r, err := rowFromDests(def, dests)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", def.Name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", def.Name, err)
	}
	return out, version, nil
}

// Append implements Store.
func (s *DuckDBStore) Append(ctx context.Context, def TableDef, rows []Row) error {
	if err := def.checkRows(rows); err != nil {
		return err
	}
	return s.mutate(ctx, def, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.d.bumpVersion(), def.Name); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// OverwriteTable implements Store.
func (s *DuckDBStore) OverwriteTable(ctx context.Context, def TableDef, expectedVersion int64, rows []Row) error {
	if err := def.checkRows(rows); err != nil {
		return err
	}
	return s.mutate(ctx, def, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.d.bumpVersionIf(), def.Name, expectedVersion)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("overwrite %s at version %d: %w", def.Name, expectedVersion, ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, s.d.deleteAll(def)); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// OverwritePartition implements Store.
func (s *DuckDBStore) OverwritePartition(ctx context.Context, def TableDef, pred Predicate, rows []Row) error {
	idx, pred, err := def.checkPredicate(pred)
	if err != nil {
		return err
	}
	if err := def.checkRows(rows); err != nil {
		return err
	}
	for i, r := range rows {
		if !matches(r, idx, pred) {
			return fmt.Errorf("table %s row %d: outside partition", def.Name, i)
		}
	}
	return s.mutate(ctx, def, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.d.bumpVersion(), def.Name); err != nil {
			return err
		}
		q, args := s.d.deleteWhere(def, pred)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// Version implements Store.
func (s *DuckDBStore) Version(ctx context.Context, def TableDef) (int64, error) {
	if err := s.ensureTable(ctx, def); err != nil {
		return 0, err
	}
	var version int64
	if err := s.db.QueryRowContext(ctx, s.d.selectVersion(), def.Name).Scan(&version); err != nil {
		return 0, fmt.Errorf("read version %s: %w", def.Name, err)
	}
	return version, nil
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

func (s *DuckDBStore) insert(ctx context.Context, tx *sql.Tx, def TableDef, rows []Row) error {
	for _, st := range s.d.insertChunks(def, rows) {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// mutate runs fn in a transaction. DuckDB write-write conflicts surface as ErrConflict.
func (s *DuckDBStore) mutate(ctx context.Context, def TableDef, fn func(tx *sql.Tx) error) error {
	if err := s.ensureTable(ctx, def); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", def.Name, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("write %s: %w", def.Name, mapDuckDBErr(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", def.Name, mapDuckDBErr(err))
	}
	return nil
}

// mapDuckDBErr maps DuckDB's optimistic transaction conflicts to ErrConflict.
func mapDuckDBErr(err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "transaction conflict") || strings.Contains(msg, "conflict on") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
