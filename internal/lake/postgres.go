package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a PostgreSQL pool.
type PostgresStore struct {
	db     *pgxpool.Pool
	d      dialect
	logger *slog.Logger

	ensureMu sync.Mutex
	ensured  map[string]bool
}

// NewPostgresStore wraps pool. Tables live in schema when it is non-empty.
// The store does not own the pool; Close is a no-op.
func NewPostgresStore(pool *pgxpool.Pool, schema string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	d := postgresDialect
	if schema != "" {
		d = d.withPrefix(quoteIdent(schema))
	}
	return &PostgresStore{
		db:      pool,
		d:       d,
		logger:  logger,
		ensured: make(map[string]bool),
	}
}

func (s *PostgresStore) ensureTable(ctx context.Context, def TableDef) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if s.ensured[def.Name] {
		return nil
	}
	for _, q := range []string{s.d.createVersions(), s.d.createTable(def)} {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	if _, err := s.db.Exec(ctx, s.d.insertVersion(), def.Name); err != nil {
		return fmt.Errorf("init version %s: %w", def.Name, err)
	}
	s.ensured[def.Name] = true
	s.logger.Debug("lake table ready", "table", def.Name)
	return nil
}

// ReadAll implements Store. Version and rows come from one snapshot.
func (s *PostgresStore) ReadAll(ctx context.Context, def TableDef) ([]Row, int64, error) {
	if err := s.ensureTable(ctx, def); err != nil {
		return nil, 0, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read %s: %w", def.Name, err)
	}
	defer tx.Rollback(ctx)

	var version int64
	if err := tx.QueryRow(ctx, s.d.selectVersion(), def.Name).Scan(&version); err != nil {
		return nil, 0, fmt.Errorf("read version %s: %w", def.Name, err)
	}

	rows, err := tx.Query(ctx, s.d.selectAll(def))
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
func (s *PostgresStore) Append(ctx context.Context, def TableDef, rows []Row) error {
	if err := def.checkRows(rows); err != nil {
		return err
	}
	return s.mutate(ctx, def, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, s.d.bumpVersion(), def.Name); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// OverwriteTable implements Store.
func (s *PostgresStore) OverwriteTable(ctx context.Context, def TableDef, expectedVersion int64, rows []Row) error {
	if err := def.checkRows(rows); err != nil {
		return err
	}
	return s.mutate(ctx, def, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, s.d.bumpVersionIf(), def.Name, expectedVersion)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("overwrite %s at version %d: %w", def.Name, expectedVersion, ErrConflict)
		}
		if _, err := tx.Exec(ctx, s.d.deleteAll(def)); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// OverwritePartition implements Store.
func (s *PostgresStore) OverwritePartition(ctx context.Context, def TableDef, pred Predicate, rows []Row) error {
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
	return s.mutate(ctx, def, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, s.d.bumpVersion(), def.Name); err != nil {
			return err
		}
		q, args := s.d.deleteWhere(def, pred)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return err
		}
		return s.insert(ctx, tx, def, rows)
	})
}

// Version implements Store.
func (s *PostgresStore) Version(ctx context.Context, def TableDef) (int64, error) {
	if err := s.ensureTable(ctx, def); err != nil {
		return 0, err
	}
	var version int64
	if err := s.db.QueryRow(ctx, s.d.selectVersion(), def.Name).Scan(&version); err != nil {
		return 0, fmt.Errorf("read version %s: %w", def.Name, err)
	}
	return version, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error { return nil }

// insert sends the chunked INSERTs as one pgx.Batch.
func (s *PostgresStore) insert(ctx context.Context, tx pgx.Tx, def TableDef, rows []Row) error {
	stmts := s.d.insertChunks(def, rows)
	if len(stmts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, st := range stmts {
		batch.Queue(st.query, st.args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range stmts {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

func (s *PostgresStore) mutate(ctx context.Context, def TableDef, fn func(tx pgx.Tx) error) error {
	if err := s.ensureTable(ctx, def); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", def.Name, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return fmt.Errorf("write %s: %w", def.Name, mapPgErr(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", def.Name, mapPgErr(err))
	}
	return nil
}

// mapPgErr maps serialization failures and deadlocks to ErrConflict.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}
