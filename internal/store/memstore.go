package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store. Tables keep rows in insertion order, which
// stands in for primary-key order; seed rows in key order. Used by tests and
// as a reference implementation of the collaborator contract.
type MemStore struct {
	tables map[string]*memTable
	blobs  map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tables: make(map[string]*memTable),
		blobs:  make(map[string][]byte),
	}
}

// Table returns the named table, creating it if absent.
func (s *MemStore) Table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{name: name}
		s.tables[name] = t
	}
	return t, nil
}

// Seed appends rows to the named table, creating it if absent.
func (s *MemStore) Seed(name string, rows ...Row) {
	t, _ := s.Table(name)
	mt := t.(*memTable)
	mt.rows = append(mt.rows, rows...)
}

func (s *MemStore) ReadBlob(_ context.Context, table, column string) ([]byte, error) {
	data, ok := s.blobs[table+"."+column]
	if !ok {
		return nil, fmt.Errorf("no blob %s.%s", table, column)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) WriteBlob(_ context.Context, table, column string, data []byte) error {
	out := make([]byte, len(data))
	copy(out, data)
	s.blobs[table+"."+column] = out
	return nil
}

// SeedBlob sets a blob without going through WriteBlob error handling.
func (s *MemStore) SeedBlob(table, column string, data []byte) {
	_ = s.WriteBlob(context.Background(), table, column, data)
}

func (s *MemStore) Close() {}

type memTable struct {
	name string
	rows []Row
}

func (t *memTable) Scan(_ context.Context, p Pattern) ([]Row, error) {
	var out []Row
	for _, row := range t.rows {
		if matches(row, p) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *memTable) FindFirst(_ context.Context, p Pattern) (Row, bool, error) {
	for _, row := range t.rows {
		if matches(row, p) {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (t *memTable) Update(_ context.Context, p Pattern, row Row) error {
	for i := range t.rows {
		if matches(t.rows[i], p) {
			t.rows[i] = row
			return nil
		}
	}
	return fmt.Errorf("table %s: no row matches update pattern %v", t.name, p)
}

func (t *memTable) Append(_ context.Context, rows []Row) (int, error) {
	t.rows = append(t.rows, rows...)
	return len(t.rows), nil
}

func matches(row Row, p Pattern) bool {
	for col, want := range p {
		got, ok := row[col]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// valueEqual compares column values across the types a Row may hold.
// Integer widths are normalized so seeded int values match engine int64s.
func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if xa, ok := asInt64(a); ok {
		if xb, ok := asInt64(b); ok {
			return xa == xb
		}
		return false
	}
	return a == b
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
