// Package store defines the collaborator interface to the tabular ledger
// store. The engine never parses the backing format itself; it only decides
// what to read and write through this interface. Two backends are provided:
// an in-memory store for tests and a Postgres-backed store.
package store

import "context"

// Row is a single table row keyed by column name. Values are typed per the
// ledger column conventions: time.Time for dt*-columns, decimal.Decimal for
// d*-columns and rate, int64 for other numeric columns, string and bool for
// the rest.
type Row map[string]any

// Pattern matches rows by exact equality on every listed column.
type Pattern map[string]any

// Table is one named table of the ledger store. Scans are ordered by the
// table's primary key.
type Table interface {
	// Scan returns all rows matching the pattern in primary-key order.
	// A nil pattern matches every row.
	Scan(ctx context.Context, p Pattern) ([]Row, error)

	// FindFirst returns the first row matching the pattern, if any.
	FindFirst(ctx context.Context, p Pattern) (Row, bool, error)

	// Update rewrites the first row matching the pattern.
	Update(ctx context.Context, p Pattern, row Row) error

	// Append adds the rows to the table in one bulk operation and
	// returns the resulting total row count.
	Append(ctx context.Context, rows []Row) (int, error)
}

// Store is an open ledger store. The caller is assumed to be the sole
// writer for the lifetime of the handle; cross-process exclusion is the
// backend's concern.
type Store interface {
	Table(name string) (Table, error)

	// ReadBlob reads a binary blob column from a single-row table.
	ReadBlob(ctx context.Context, table, column string) ([]byte, error)

	// WriteBlob replaces a binary blob column on a single-row table.
	WriteBlob(ctx context.Context, table, column string, data []byte) error

	Close()
}
