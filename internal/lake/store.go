package lake

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrConflict is returned when a guarded write loses an optimistic-concurrency race.
var ErrConflict = errors.New("lake: table version conflict")

// ColumnType is the storage type of a column.
type ColumnType int

const (
	TypeInt8 ColumnType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeString
	TypeBool
)

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableDef is the untyped shape of a table.
type TableDef struct {
	Name        string
	Columns     []Column
	PartitionBy []string // Columns used for partition pruning
}

// Row is one table row, values ordered as TableDef.Columns.
// Values use the exact Go type of the column (int8, int16, int32, int64,
// float64, string, bool) or nil for a NULL in a nullable column.
type Row []any

// Eq is an equality condition on one column.
type Eq struct {
	Column string
	Value  any
}

// Predicate is a conjunction of equality conditions.
type Predicate []Eq

// Store is the lakehouse table contract. All operations are atomic.
type Store interface {
	// ReadAll returns every row and the version the table was read at.
	// A table that does not exist yet reads as empty at version 0.
	ReadAll(ctx context.Context, def TableDef) ([]Row, int64, error)

	// Append adds rows to the table.
	Append(ctx context.Context, def TableDef, rows []Row) error

	// OverwriteTable replaces all rows if the table is still at expectedVersion.
	// Returns ErrConflict otherwise.
	OverwriteTable(ctx context.Context, def TableDef, expectedVersion int64, rows []Row) error

	// OverwritePartition replaces the rows matching pred. Every row must match pred.
	OverwritePartition(ctx context.Context, def TableDef, pred Predicate, rows []Row) error

	// Version returns the current table version (0 if the table does not exist).
	Version(ctx context.Context, def TableDef) (int64, error)

	Close() error
}

// columnIndex returns the position of name in def, or -1.
func (d TableDef) columnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order.
func (d TableDef) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// checkRows verifies arity and value types, coercing integer widths in place.
func (d TableDef) checkRows(rows []Row) error {
	for i, r := range rows {
		if len(r) != len(d.Columns) {
			return fmt.Errorf("table %s row %d: got %d values, want %d", d.Name, i, len(r), len(d.Columns))
		}
		for j, c := range d.Columns {
			v, err := coerce(c, r[j])
			if err != nil {
				return fmt.Errorf("table %s row %d column %s: %w", d.Name, i, c.Name, err)
			}
			r[j] = v
		}
	}
	return nil
}

// checkPredicate resolves predicate columns and coerces predicate values.
func (d TableDef) checkPredicate(pred Predicate) ([]int, Predicate, error) {
	if len(pred) == 0 {
		return nil, nil, fmt.Errorf("table %s: empty partition predicate", d.Name)
	}
	idx := make([]int, len(pred))
	out := make(Predicate, len(pred))
	for i, eq := range pred {
		j := d.columnIndex(eq.Column)
		if j < 0 {
			return nil, nil, fmt.Errorf("table %s: unknown predicate column %q", d.Name, eq.Column)
		}
		v, err := coerce(d.Columns[j], eq.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("table %s predicate %s: %w", d.Name, eq.Column, err)
		}
		if v == nil {
			return nil, nil, fmt.Errorf("table %s predicate %s: NULL not allowed", d.Name, eq.Column)
		}
		idx[i] = j
		out[i] = Eq{Column: eq.Column, Value: v}
	}
	return idx, out, nil
}

// matches reports whether row satisfies pred (resolved by checkPredicate).
func matches(row Row, idx []int, pred Predicate) bool {
	for i, j := range idx {
		if row[j] != pred[i].Value {
			return false
		}
	}
	return true
}

// coerce converts v to the exact Go type of column c.
func coerce(c Column, v any) (any, error) {
	if v == nil {
		if !c.Nullable {
			return nil, errors.New("NULL in non-nullable column")
		}
		return nil, nil
	}

	switch c.Type {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		n, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("want integer, got %T", v)
		}
		switch c.Type {
		case TypeInt8:
			if n < math.MinInt8 || n > math.MaxInt8 {
				return nil, fmt.Errorf("value %d overflows int8", n)
			}
			return int8(n), nil
		case TypeInt16:
			if n < math.MinInt16 || n > math.MaxInt16 {
				return nil, fmt.Errorf("value %d overflows int16", n)
			}
			return int16(n), nil
		case TypeInt32:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("value %d overflows int32", n)
			}
			return int32(n), nil
		default:
			return n, nil
		}
	case TypeFloat64:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
		return nil, fmt.Errorf("want float64, got %T", v)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return s, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown column type %d", c.Type)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
