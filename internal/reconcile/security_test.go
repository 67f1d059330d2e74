package reconcile

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfinance/quotesync/internal/store"
)

func newSecurityStore(t *testing.T) *store.MemStore {
	t.Helper()
	st := store.NewMemStore()
	st.SeedBlob(HeaderTable, HeaderBlobColumn, headerBlob(NextPriceKey, 1000))
	st.Seed(countryTable, store.Row{"hcntry": int64(1), "szCode": "US"})
	return st
}

func seedSecurity(st *store.MemStore, hsec int64, symbol string, lastUpdate time.Time, price string) {
	st.Seed(securityTable, store.Row{
		"hsec":         hsec,
		"szSymbol":     symbol,
		"fOLQuotes":    true,
		"hcntry":       int64(1),
		"dtLastUpdate": lastUpdate,
		"dPrice":       decimal.RequireFromString(price),
	})
}

func newSecurityReconciler(t *testing.T, st *store.MemStore, schemaDoc string, now time.Time) (*SecurityReconciler, *Summary) {
	t.Helper()
	summary := NewSummary(zerolog.Nop())
	r, err := NewSecurityReconciler(context.Background(), st, testCatalog(t, schemaDoc), summary, 0, zerolog.Nop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }
	return r, summary
}

func findRow(t *testing.T, st *store.MemStore, table string, p store.Pattern) store.Row {
	t.Helper()
	tbl, err := st.Table(table)
	require.NoError(t, err)
	row, found, err := tbl.FindFirst(context.Background(), p)
	require.NoError(t, err)
	require.True(t, found, "no row in %s matching %v", table, p)
	return row
}

func scanRows(t *testing.T, st *store.MemStore, table string, p store.Pattern) []store.Row {
	t.Helper()
	tbl, err := st.Table(table)
	require.NoError(t, err)
	rows, err := tbl.Scan(context.Background(), p)
	require.NoError(t, err)
	return rows
}

func TestSecurityUpdateAppendsNewQuote(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	r, summary := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T12:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-02T00:00:00Z",
		"dPrice":       "101.5",
	})
	require.NoError(t, err)
	assert.Equal(t, OK, outcome)

	// Current-state record updated in place.
	secRow := findRow(t, st, securityTable, store.Pattern{"szSymbol": "FOO"})
	assert.True(t, secRow["dtLastUpdate"].(time.Time).Equal(ts(t, "2024-01-02T00:00:00Z")))
	assert.True(t, secRow["dPrice"].(decimal.Decimal).Equal(dec(t, "101.5")))

	// Time-series row staged, not yet written.
	assert.Empty(t, scanRows(t, st, priceTable, store.Pattern{"hsec": int64(101)}))
	require.NoError(t, r.Flush(ctx))

	spRows := scanRows(t, st, priceTable, store.Pattern{"hsec": int64(101)})
	require.Len(t, spRows, 1)
	sp := spRows[0]
	assert.Equal(t, int64(1000), sp["hsp"])
	assert.Equal(t, srcOnline, sp["src"])
	assert.True(t, sp["dt"].(time.Time).Equal(dayOf(ts(t, "2024-01-02T00:00:00Z"))))
	assert.True(t, sp["dPrice"].(decimal.Decimal).Equal(dec(t, "101.5")))

	// Routing fields are not persisted.
	_, ok := sp["xSymbol"]
	assert.False(t, ok)

	// Counter advanced by the number of appended rows.
	blob, err := st.ReadBlob(ctx, HeaderTable, HeaderBlobColumn)
	require.NoError(t, err)
	assert.Equal(t, uint32(1001), binary.LittleEndian.Uint32(blob[NextPriceKey.Offset:]))

	_, code := summary.Finalize()
	assert.Equal(t, ExitOK, code)
}

func TestSecurityUpdateIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T12:00:00Z"))

	raw := RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-02T00:00:00Z",
		"dPrice":       "101.5",
	}
	outcome, err := r.Update(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, OK, outcome)
	require.NoError(t, r.Flush(ctx))

	// Same quote again: same timestamp, inside the staleness window.
	outcome, err = r.Update(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, NoChange, outcome)

	assert.Zero(t, r.batch.Len())
	assert.Len(t, scanRows(t, st, priceTable, store.Pattern{"hsec": int64(101)}), 1)
}

func TestSecurityUpdateMissingRequired(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	r, summary := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T12:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-02T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, MissingRequired, outcome)

	// No storage mutation for the rejected row.
	secRow := findRow(t, st, securityTable, store.Pattern{"szSymbol": "FOO"})
	assert.True(t, secRow["dtLastUpdate"].(time.Time).Equal(ts(t, "2024-01-01T00:00:00Z")))
	assert.Zero(t, r.batch.Len())

	_, code := summary.Finalize()
	assert.Equal(t, ExitError, code)
}

func TestSecurityUpdateUnknownSymbol(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T12:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol":      "ZZZ",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-02T00:00:00Z",
		"dPrice":       "1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, NotFound, outcome)
}

func TestSecurityStaleZeroChangeSkips(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	stored := ts(t, "2024-01-01T00:00:00Z")
	seedSecurity(st, 101, "FOO", stored, "100.0")
	st.Seed(priceTable, store.Row{
		"hsp":     int64(500),
		"hsec":    int64(101),
		"dt":      dayOf(stored),
		"src":     srcOnline,
		"dChange": decimal.Zero,
		"dPrice":  decimal.RequireFromString("100.0"),
	})
	// Same timestamp, resubmitted well past the staleness window.
	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-20T00:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-01T00:00:00Z",
		"dPrice":       "100.0",
	})
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)

	// Self-consistent no-op: nothing written, nothing staged.
	sp := findRow(t, st, priceTable, store.Pattern{"hsp": int64(500)})
	assert.True(t, sp["dPrice"].(decimal.Decimal).Equal(dec(t, "100.0")))
	_, hasSerial := sp["dtSerial"]
	assert.False(t, hasSerial)
	assert.Zero(t, r.batch.Len())
}

func TestSecurityStaleNonzeroChangeSupersededOnce(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	stored := ts(t, "2024-01-01T00:00:00Z")
	seedSecurity(st, 101, "FOO", stored, "100.0")
	st.Seed(priceTable, store.Row{
		"hsp":     int64(500),
		"hsec":    int64(101),
		"dt":      dayOf(stored),
		"src":     srcManual,
		"dChange": decimal.RequireFromString("1.5"),
		"dPrice":  decimal.RequireFromString("100.0"),
	})
	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-20T00:00:00Z"))

	raw := RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-01T00:00:00Z",
		"dPrice":       "100.0",
	}
	outcome, err := r.Update(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, StaleSuperseded, outcome)

	// The stale value is treated as a same-price carry-forward.
	sp := findRow(t, st, priceTable, store.Pattern{"hsp": int64(500)})
	assert.True(t, sp["dChange"].(decimal.Decimal).IsZero())
	assert.Zero(t, r.batch.Len())

	// Resubmission now short-circuits to the skipped-stale outcome.
	outcome, err = r.Update(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)
}

func TestSecuritySameDayAuthoritativeMerge(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	quoteDay := dayOf(ts(t, "2024-01-02T00:00:00Z"))
	st.Seed(priceTable, store.Row{
		"hsp":     int64(500),
		"hsec":    int64(101),
		"dt":      quoteDay,
		"src":     srcManual,
		"dChange": decimal.Zero,
		"dPrice":  decimal.RequireFromString("99.0"),
	})
	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T12:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol":      "FOO",
		"xType":        "stock",
		"dtLastUpdate": "2024-01-02T00:00:00Z",
		"dPrice":       "101.5",
	})
	require.NoError(t, err)
	assert.Equal(t, OK, outcome)

	// Merged into the existing same-day row, nothing appended.
	sp := findRow(t, st, priceTable, store.Pattern{"hsp": int64(500)})
	assert.True(t, sp["dPrice"].(decimal.Decimal).Equal(dec(t, "101.5")))
	assert.Zero(t, r.batch.Len())
	assert.Len(t, scanRows(t, st, priceTable, store.Pattern{"hsec": int64(101)}), 1)
}

func TestSecurityQuoteDateFromBareDate(t *testing.T) {
	ctx := context.Background()
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")
	r, _ := newSecurityReconciler(t, st, `
kind: security
stale_days: 7
required: [xType, xSymbol, dt, dPrice]
optional:
  stock: []
`, ts(t, "2024-01-03T12:00:00Z"))

	outcome, err := r.Update(ctx, RawRow{
		"xSymbol": "FOO",
		"xType":   "stock",
		"dt":      "2024-01-02",
		"dPrice":  "101.5",
	})
	require.NoError(t, err)
	assert.Equal(t, OK, outcome)
	require.NoError(t, r.Flush(ctx))

	// Without a last-update timestamp the current-state record is left
	// alone and the quote date drives the time series.
	secRow := findRow(t, st, securityTable, store.Pattern{"szSymbol": "FOO"})
	assert.True(t, secRow["dPrice"].(decimal.Decimal).Equal(dec(t, "100.0")))

	spRows := scanRows(t, st, priceTable, store.Pattern{"hsec": int64(101)})
	require.Len(t, spRows, 1)
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local)
	assert.True(t, spRows[0]["dt"].(time.Time).Equal(want))
}

func spRow(hsp int64, day time.Time, src int64) store.Row {
	return store.Row{
		"hsp":     hsp,
		"hsec":    int64(101),
		"dt":      day,
		"src":     src,
		"dChange": decimal.Zero,
	}
}

func TestSearchTimeSeries(t *testing.T) {
	day := func(n int) time.Time {
		return time.Date(2024, 1, n, 0, 0, 0, 0, time.Local)
	}
	rows := []store.Row{
		spRow(1, day(1), srcOnline),
		spRow(2, day(2), 1),
		spRow(3, day(3), 1),
		spRow(4, day(4), 1),
		spRow(5, day(5), srcOnline),
	}

	// Exact match found from either end of the history.
	match, _ := searchTimeSeries(rows, day(1))
	require.NotNil(t, match)
	assert.Equal(t, int64(1), match["hsp"])

	match, _ = searchTimeSeries(rows, day(5))
	require.NotNil(t, match)
	assert.Equal(t, int64(5), match["hsp"])

	// A transaction-price row on the quote date is not an update target,
	// but serves as the reference row.
	match, ref := searchTimeSeries(rows, day(3))
	assert.Nil(t, match)
	require.NotNil(t, ref)
	assert.Equal(t, int64(3), ref["hsp"])

	// An authoritative same-day row is found even when a transaction row
	// for the same day comes first in key order.
	withLate := append(append([]store.Row{}, rows...), spRow(6, day(3), srcOnline))
	match, _ = searchTimeSeries(withLate, day(3))
	require.NotNil(t, match)
	assert.Equal(t, int64(6), match["hsp"])

	// No same-day row: the highest-dated earlier row is the reference.
	match, ref = searchTimeSeries(rows, day(10))
	assert.Nil(t, match)
	require.NotNil(t, ref)
	assert.Equal(t, int64(5), ref["hsp"])

	match, ref = searchTimeSeries(nil, day(1))
	assert.Nil(t, match)
	assert.Nil(t, ref)
}

func TestSecuritySymbolsWithCountry(t *testing.T) {
	st := newSecurityStore(t)
	seedSecurity(st, 101, "FOO", ts(t, "2024-01-01T00:00:00Z"), "100.0")

	// Securities without the online-quotes flag are not trackable.
	st.Seed(securityTable, store.Row{
		"hsec": int64(102), "szSymbol": "BAR", "fOLQuotes": false, "hcntry": int64(1),
	})

	r, _ := newSecurityReconciler(t, st, plainSecuritySchema, ts(t, "2024-01-03T00:00:00Z"))
	require.Len(t, r.Symbols(), 1)
	assert.Equal(t, Symbol{Symbol: "FOO", Country: "US"}, r.Symbols()[0])
}
