// Package reconcile implements the quote reconciliation engine: validating
// and typing incoming quote rows against the schema catalog, then merging
// them into the ledger store's current-state and time-series tables.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfinance/quotesync/internal/store"
)

// RawRow is one untyped quote record from a feed.
type RawRow map[string]string

// TypedRow is a validated row with values coerced into their column
// domains: time.Time, decimal.Decimal, int64 or string.
type TypedRow map[string]any

// Symbol pairs a trackable instrument symbol with its country code, where
// the store carries one.
type Symbol struct {
	Symbol  string
	Country string
}

// Reconciler merges one raw quote row into the ledger store. The returned
// outcome is the row's final classification; a non-nil error is a storage
// failure that aborts the run.
type Reconciler interface {
	Update(ctx context.Context, raw RawRow) (Outcome, error)
	Symbols() []Symbol
}

// rowFault is a row-level failure. It is always converted into an Outcome
// at the reconciler boundary and never propagates further.
type rowFault struct {
	outcome Outcome
	message string
}

// raise returns the more severe of two pending outcomes, keeping the first
// at equal severity.
func raise(current, next Outcome) Outcome {
	if next.Severity() > current.Severity() {
		return next
	}
	return current
}

// dayOf truncates a timestamp to local midnight.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts whole 24-hour periods from a to b.
func daysBetween(a, b time.Time) int64 {
	return int64(b.Sub(a).Hours() / 24)
}

// mergeRow copies quote values into a store row, dropping the x-prefixed
// routing fields that belong to the engine, not the store.
func mergeRow(dst store.Row, src TypedRow) {
	for col, v := range src {
		if strings.HasPrefix(col, "x") {
			continue
		}
		dst[col] = v
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case decimal.Decimal:
		return n
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	}
	return decimal.Zero
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
