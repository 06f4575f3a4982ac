package lake

import (
	"context"
	"fmt"
)

// Schema binds a TableDef to a typed row struct.
type Schema[T any] struct {
	TableDef
	Encode func(T) Row
	Decode func(Row) (T, error)
}

// ReadAll reads every row of the table as T, with the table version.
func ReadAll[T any](ctx context.Context, s Store, sc Schema[T]) ([]T, int64, error) {
	rows, version, err := s.ReadAll(ctx, sc.TableDef)
	if err != nil {
		return nil, 0, err
	}
	out := make([]T, 0, len(rows))
	for i, r := range rows {
		item, err := sc.Decode(r)
		if err != nil {
			return nil, 0, fmt.Errorf("decode %s row %d: %w", sc.Name, i, err)
		}
		out = append(out, item)
	}
	return out, version, nil
}

// Append appends items to the table.
func Append[T any](ctx context.Context, s Store, sc Schema[T], items []T) error {
	return s.Append(ctx, sc.TableDef, encodeAll(sc, items))
}

// OverwriteTable replaces the table contents if it is still at expectedVersion.
func OverwriteTable[T any](ctx context.Context, s Store, sc Schema[T], expectedVersion int64, items []T) error {
	return s.OverwriteTable(ctx, sc.TableDef, expectedVersion, encodeAll(sc, items))
}

// OverwritePartition replaces the rows matching pred with items.
func OverwritePartition[T any](ctx context.Context, s Store, sc Schema[T], pred Predicate, items []T) error {
	return s.OverwritePartition(ctx, sc.TableDef, pred, encodeAll(sc, items))
}

func encodeAll[T any](sc Schema[T], items []T) []Row {
	rows := make([]Row, len(items))
	for i, item := range items {
		rows[i] = sc.Encode(item)
	}
	return rows
}

// Value accessors used by Decode funcs report a type mismatch as an error.

// Int64 reads an integer column.
func Int64(r Row, i int) (int64, error) {
	n, ok := asInt64(r[i])
	if !ok {
		return 0, fmt.Errorf("column %d: want integer, got %T", i, r[i])
	}
	return n, nil
}

// Float64 reads a float column.
func Float64(r Row, i int) (float64, error) {
	switch f := r[i].(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	}
	return 0, fmt.Errorf("column %d: want float64, got %T", i, r[i])
}

// String reads a string column.
func String(r Row, i int) (string, error) {
	s, ok := r[i].(string)
	if !ok {
		return "", fmt.Errorf("column %d: want string, got %T", i, r[i])
	}
	return s, nil
}

// Bool reads a bool column.
func Bool(r Row, i int) (bool, error) {
	b, ok := r[i].(bool)
	if !ok {
		return false, fmt.Errorf("column %d: want bool, got %T", i, r[i])
	}
	return b, nil
}

// NullInt64 reads a nullable integer column.
func NullInt64(r Row, i int) (*int64, error) {
	if r[i] == nil {
		return nil, nil
	}
	n, err := Int64(r, i)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// NullFloat64 reads a nullable float column.
func NullFloat64(r Row, i int) (*float64, error) {
	if r[i] == nil {
		return nil, nil
	}
	f, err := Float64(r, i)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// NullString reads a nullable string column.
func NullString(r Row, i int) (*string, error) {
	if r[i] == nil {
		return nil, nil
	}
	s, err := String(r, i)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Nullable converts a typed pointer to a Row value (nil for NULL).
func Nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// RowReader decodes a row column by column, keeping the first error.
type RowReader struct {
	row Row
	pos int
	err error
}

// NewRowReader creates a reader over r.
func NewRowReader(r Row) *RowReader {
	return &RowReader{row: r}
}

// Err returns the first decode error.
func (rr *RowReader) Err() error { return rr.err }

func (rr *RowReader) next() int {
	i := rr.pos
	rr.pos++
	return i
}

func (rr *RowReader) Int64() int64 {
	i := rr.next()
	if rr.err != nil {
		return 0
	}
	v, err := Int64(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) Int32() int32 { return int32(rr.Int64()) }
func (rr *RowReader) Int16() int16 { return int16(rr.Int64()) }
func (rr *RowReader) Int8() int8   { return int8(rr.Int64()) }

func (rr *RowReader) Float64() float64 {
	i := rr.next()
	if rr.err != nil {
		return 0
	}
	v, err := Float64(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) String() string {
	i := rr.next()
	if rr.err != nil {
		return ""
	}
	v, err := String(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) Bool() bool {
	i := rr.next()
	if rr.err != nil {
		return false
	}
	v, err := Bool(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) NullInt64() *int64 {
	i := rr.next()
	if rr.err != nil {
		return nil
	}
	v, err := NullInt64(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) NullFloat64() *float64 {
	i := rr.next()
	if rr.err != nil {
		return nil
	}
	v, err := NullFloat64(rr.row, i)
	rr.err = err
	return v
}

func (rr *RowReader) NullString() *string {
	i := rr.next()
	if rr.err != nil {
		return nil
	}
	v, err := NullString(rr.row, i)
	rr.err = err
	return v
}
