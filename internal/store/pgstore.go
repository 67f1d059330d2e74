package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgStore is a Postgres-backed Store. Rows are stored as jsonb documents in
// a single relation keyed by (table name, serial pk), blobs as bytea. Values
// are mapped back into their column domains on read using the ledger column
// naming conventions, since jsonb does not round-trip Go types.
type PgStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS ledger_rows (
	tbl  text   NOT NULL,
	pk   bigint GENERATED ALWAYS AS IDENTITY,
	data jsonb  NOT NULL,
	PRIMARY KEY (tbl, pk)
);
CREATE TABLE IF NOT EXISTS ledger_blobs (
	tbl  text  NOT NULL,
	col  text  NOT NULL,
	data bytea NOT NULL,
	PRIMARY KEY (tbl, col)
);
`

// OpenPg connects to Postgres and ensures the backing relations exist.
func OpenPg(ctx context.Context, url string) (*PgStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create ledger relations: %w", err)
	}

	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Table(name string) (Table, error) {
	return &pgTable{pool: s.pool, name: name}, nil
}

func (s *PgStore) ReadBlob(ctx context.Context, table, column string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ledger_blobs WHERE tbl = $1 AND col = $2`,
		table, column).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("read blob %s.%s: %w", table, column, err)
	}
	return data, nil
}

func (s *PgStore) WriteBlob(ctx context.Context, table, column string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_blobs (tbl, col, data) VALUES ($1, $2, $3)
		 ON CONFLICT (tbl, col) DO UPDATE SET data = EXCLUDED.data`,
		table, column, data)
	if err != nil {
		return fmt.Errorf("write blob %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

type pgTable struct {
	pool *pgxpool.Pool
	name string
}

func (t *pgTable) Scan(ctx context.Context, p Pattern) ([]Row, error) {
	doc, err := patternJSON(p)
	if err != nil {
		return nil, err
	}
	rows, err := t.pool.Query(ctx,
		`SELECT data FROM ledger_rows WHERE tbl = $1 AND data @> $2 ORDER BY pk`,
		t.name, doc)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *pgTable) FindFirst(ctx context.Context, p Pattern) (Row, bool, error) {
	doc, err := patternJSON(p)
	if err != nil {
		return nil, false, err
	}
	var data []byte
	err = t.pool.QueryRow(ctx,
		`SELECT data FROM ledger_rows WHERE tbl = $1 AND data @> $2 ORDER BY pk LIMIT 1`,
		t.name, doc).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find in %s: %w", t.name, err)
	}
	row, err := decodeRow(data)
	if err != nil {
		return nil, false, fmt.Errorf("find in %s: %w", t.name, err)
	}
	return row, true, nil
}

func (t *pgTable) Update(ctx context.Context, p Pattern, row Row) error {
	pdoc, err := patternJSON(p)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row for %s: %w", t.name, err)
	}
	tag, err := t.pool.Exec(ctx,
		`UPDATE ledger_rows SET data = $3
		 WHERE tbl = $1 AND pk = (
			SELECT pk FROM ledger_rows WHERE tbl = $1 AND data @> $2 ORDER BY pk LIMIT 1
		 )`,
		t.name, pdoc, doc)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: no row matches update pattern %v", t.name, p)
	}
	return nil
}

func (t *pgTable) Append(ctx context.Context, rows []Row) (int, error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		doc, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("encode row for %s: %w", t.name, err)
		}
		batch.Queue(`INSERT INTO ledger_rows (tbl, data) VALUES ($1, $2)`, t.name, doc)
	}
	if err := t.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("append to %s: %w", t.name, err)
	}
	var count int
	err := t.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_rows WHERE tbl = $1`, t.name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return count, nil
}

func patternJSON(p Pattern) ([]byte, error) {
	if p == nil {
		p = Pattern{}
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pattern: %w", err)
	}
	return doc, nil
}

// decodeRow maps a jsonb document back into typed column values.
func decodeRow(data []byte) (Row, error) {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	row := Row{}
	for col, v := range raw {
		dv, err := decodeValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		row[col] = dv
	}
	return row, nil
}

// decodeValue applies the ledger column naming conventions: dt* columns are
// timestamps, d*-prefixed columns and rate are decimals, sz*/x* columns are
// strings, flags stay booleans and everything else numeric is an integer.
func decodeValue(col string, v any) (any, error) {
	switch raw := v.(type) {
	case bool:
		return raw, nil
	case string:
		if strings.HasPrefix(col, "dt") {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, err
			}
			return t.In(time.Local), nil
		}
		if col == "rate" || (strings.HasPrefix(col, "d") && !strings.HasPrefix(col, "dt")) {
			return decimal.NewFromString(raw)
		}
		return raw, nil
	case float64:
		if col == "rate" || (strings.HasPrefix(col, "d") && !strings.HasPrefix(col, "dt")) {
			return decimal.NewFromFloat(raw), nil
		}
		return int64(raw), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported stored value %T", v)
	}
}
