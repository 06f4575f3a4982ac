package lake

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	version int64
	rows    []Row
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memTable)}
}

// ReadAll implements Store.
func (m *MemoryStore) ReadAll(ctx context.Context, def TableDef) ([]Row, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[def.Name]
	if !ok {
		return nil, 0, nil
	}
	return copyRows(t.rows), t.version, nil
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, def TableDef, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows = copyRows(rows)
	if err := def.checkRows(rows); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(def.Name)
	t.rows = append(t.rows, rows...)
	t.version++
	return nil
}

// OverwriteTable implements Store.
func (m *MemoryStore) OverwriteTable(ctx context.Context, def TableDef, expectedVersion int64, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows = copyRows(rows)
	if err := def.checkRows(rows); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(def.Name)
	if t.version != expectedVersion {
		return fmt.Errorf("overwrite %s at version %d (current %d): %w", def.Name, expectedVersion, t.version, ErrConflict)
	}
	t.rows = rows
	t.version++
	return nil
}

// OverwritePartition implements Store.
func (m *MemoryStore) OverwritePartition(ctx context.Context, def TableDef, pred Predicate, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, pred, err := def.checkPredicate(pred)
	if err != nil {
		return err
	}
	rows = copyRows(rows)
	if err := def.checkRows(rows); err != nil {
		return err
	}
	for i, r := range rows {
		if !matches(r, idx, pred) {
			return fmt.Errorf("table %s row %d: outside partition", def.Name, i)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(def.Name)
	kept := t.rows[:0:0]
	for _, r := range t.rows {
		if !matches(r, idx, pred) {
			kept = append(kept, r)
		}
	}
	t.rows = append(kept, rows...)
	t.version++
	return nil
}

// Version implements Store.
func (m *MemoryStore) Version(ctx context.Context, def TableDef) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.tables[def.Name]; ok {
		return t.version, nil
	}
	return 0, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// table returns the named table, creating it (caller must hold write lock).
func (m *MemoryStore) table(name string) *memTable {
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{}
		m.tables[name] = t
	}
	return t
}

func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = append(Row(nil), r...)
	}
	return out
}
