package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/openfinance/quotesync/internal/schema"
	"github.com/openfinance/quotesync/internal/store"
)

const (
	securityTable = "SEC"
	priceTable    = "SP"
	countryTable  = "CNTRY"

	// Time-series row sources. Manual and online rows are authoritative
	// update targets; lower values are transaction prices.
	srcManual int64 = 5
	srcOnline int64 = 6
)

// SecurityReconciler merges security quotes into the current-state table
// and the per-instrument time series. New time-series rows are staged on a
// BatchAppender and written once at the end of the run.
type SecurityReconciler struct {
	sec     store.Table
	sp      store.Table
	cntry   store.Table
	sc      schema.Schema
	summary *Summary
	seq     *SequenceAllocator
	batch   *BatchAppender
	symbols []Symbol
	known   map[string]bool
	now     func() time.Time
	log     zerolog.Logger
}

// NewSecurityReconciler opens the security tables, loads the sequence
// counter and builds the working set of trackable symbols (securities
// flagged for online quotes) with their country codes. staleDays overrides
// the schema staleness window when positive.
func NewSecurityReconciler(ctx context.Context, st store.Store, catalog *schema.Catalog, summary *Summary, staleDays int, log zerolog.Logger) (*SecurityReconciler, error) {
	sc, ok := catalog.Schema(schema.KindSecurity)
	if !ok {
		return nil, fmt.Errorf("no schema for instrument kind %s", schema.KindSecurity)
	}
	if staleDays > 0 {
		sc.StaleDays = staleDays
	}

	sec, err := st.Table(securityTable)
	if err != nil {
		return nil, err
	}
	sp, err := st.Table(priceTable)
	if err != nil {
		return nil, err
	}
	cntry, err := st.Table(countryTable)
	if err != nil {
		return nil, err
	}

	r := &SecurityReconciler{
		sec:     sec,
		sp:      sp,
		cntry:   cntry,
		sc:      sc,
		summary: summary,
		known:   make(map[string]bool),
		now:     time.Now,
		log:     log.With().Str("component", "security").Logger(),
	}

	r.seq, err = NewSequenceAllocator(ctx, st, NextPriceKey, log)
	if err != nil {
		return nil, err
	}
	r.batch = NewBatchAppender(sp, r.seq, log)

	rows, err := sec.Scan(ctx, store.Pattern{"fOLQuotes": true})
	if err != nil {
		return nil, fmt.Errorf("scan %s table: %w", securityTable, err)
	}
	for _, row := range rows {
		symbol := asString(row["szSymbol"])
		if symbol == "" {
			continue
		}
		country, err := r.countryCode(ctx, asInt(row["hcntry"]))
		if err != nil {
			return nil, err
		}
		r.known[symbol] = true
		r.symbols = append(r.symbols, Symbol{Symbol: symbol, Country: country})
	}
	r.log.Debug().Int("symbols", len(r.symbols)).Msg("built security symbol set")

	return r, nil
}

// Symbols returns the trackable security symbols with country codes.
func (r *SecurityReconciler) Symbols() []Symbol {
	return r.symbols
}

// Flush writes the staged time-series rows and the sequence counter.
func (r *SecurityReconciler) Flush(ctx context.Context) error {
	return r.batch.Flush(ctx)
}

// Update reconciles one security quote row. Row-level failures are recorded
// against the quote type and returned as outcomes; only storage failures
// return an error.
func (r *SecurityReconciler) Update(ctx context.Context, raw RawRow) (Outcome, error) {
	quoteType := raw["xType"]

	validated, pending, fault := validateRow(raw, r.sc, r.known, r.log)
	if fault != nil {
		return r.reject(quoteType, fault), nil
	}
	typed, pending, fault := coerceRow(validated, r.sc, pending, r.log)
	if fault != nil {
		return r.reject(quoteType, fault), nil
	}

	symbol := asString(typed["xSymbol"])
	r.log.Info().Str("symbol", symbol).Str("quote_type", quoteType).Msg("updating quote data")

	secRow, found, err := r.sec.FindFirst(ctx, store.Pattern{"szSymbol": symbol})
	if err != nil {
		return pending, err
	}
	if !found {
		r.summary.Record(quoteType, NotFound)
		r.log.Error().Str("symbol", symbol).Msgf("cannot find symbol in %s table", securityTable)
		return NotFound, nil
	}
	hsec := asInt(secRow["hsec"])
	r.log.Debug().Str("symbol", symbol).Int64("hsec", hsec).Msg("found security")

	var quoteTime time.Time
	var quoteAge int64
	if qt, ok := asTime(typed[lastUpdateCol]); ok {
		quoteTime = qt
		stored, _ := asTime(secRow[lastUpdateCol])
		if !qt.Equal(stored) {
			// New timestamp: overwrite the current-state record in place.
			mergeRow(secRow, typed)
			if err := r.sec.Update(ctx, store.Pattern{"hsec": hsec}, secRow); err != nil {
				return pending, err
			}
			r.log.Info().Str("symbol", symbol).Msgf("updated %s table", securityTable)
		} else if quoteAge = daysBetween(qt, r.now()); quoteAge > int64(r.sc.StaleDays) {
			// Same timestamp beyond the staleness window; the
			// current-state record is left untouched.
			pending = Stale
		} else {
			r.summary.Record(quoteType, NoChange)
			r.log.Info().Str("symbol", symbol).Time("timestamp", qt).
				Msg("skipped update, new quote has same timestamp as previous quote")
			return NoChange, nil
		}
	} else if qt, ok := asTime(typed[quoteDateCol]); ok {
		quoteTime = qt
	} else {
		return r.reject(quoteType, &rowFault{
			outcome: InvalidRequired,
			message: fmt.Sprintf("no usable timestamp for symbol %s", symbol),
		}), nil
	}

	if _, ok := typed[quoteDateCol]; !ok {
		typed[quoteDateCol] = dayOf(quoteTime)
	}
	typed["dtSerial"] = r.now()
	typed["src"] = srcOnline
	quoteDate := dayOf(typed[quoteDateCol].(time.Time))

	spRows, err := r.sp.Scan(ctx, store.Pattern{"hsec": hsec})
	if err != nil {
		return pending, err
	}
	match, ref := searchTimeSeries(spRows, quoteDate)
	if ref == nil {
		r.log.Info().Str("symbol", symbol).Msgf("no quote in %s table dated before new quote", priceTable)
	} else {
		r.log.Debug().Str("symbol", symbol).Int64("hsp", asInt(ref["hsp"])).
			Msg("found reference quote")
	}

	if match != nil {
		if pending == Stale {
			if asDecimal(match["dChange"]).IsZero() {
				r.summary.Record(quoteType, Stale)
				r.log.Warn().Str("symbol", symbol).Time("timestamp", quoteTime).Int64("age_days", quoteAge).
					Msg("skipped update, received stale quote data")
				return Stale, nil
			}
			// Stale resubmission of a same-price day: carry the
			// price forward with a zero change.
			r.log.Warn().Str("symbol", symbol).Time("timestamp", quoteTime).Int64("age_days", quoteAge).
				Msg("received new stale quote data, setting change value to zero")
			typed["dChange"] = decimal.Zero
			pending = StaleSuperseded
		}
		mergeRow(match, typed)
		if err := r.sp.Update(ctx, store.Pattern{"hsp": asInt(match["hsp"])}, match); err != nil {
			return pending, err
		}
		r.summary.Record(quoteType, pending)
		r.log.Info().Str("symbol", symbol).Time("timestamp", quoteTime).
			Msgf("updated previous quote in %s table", priceTable)
		return pending, nil
	}

	newRow := store.Row{"hsp": r.seq.Next(), "hsec": hsec}
	mergeRow(newRow, typed)
	r.batch.Stage(newRow)
	r.summary.Record(quoteType, pending)
	r.log.Info().Str("symbol", symbol).Int64("hsp", asInt(newRow["hsp"])).Time("timestamp", quoteTime).
		Msgf("added new quote to %s table append list", priceTable)
	return pending, nil
}

func (r *SecurityReconciler) reject(quoteType string, fault *rowFault) Outcome {
	r.summary.Record(quoteType, fault.outcome)
	r.log.Error().Msg(fault.message)
	return fault.outcome
}

func (r *SecurityReconciler) countryCode(ctx context.Context, hcntry int64) (string, error) {
	row, found, err := r.cntry.FindFirst(ctx, store.Pattern{"hcntry": hcntry})
	if err != nil || !found {
		return "", err
	}
	return asString(row["szCode"]), nil
}

// searchTimeSeries locates the quote-date row to merge into, scanning the
// primary-key-ordered rows from whichever end is calendar-closer to the
// quote date (histories cluster monotonically). match is the authoritative
// (manual or online) row dated exactly quoteDate, if one exists anywhere.
// ref is the best reference row for diagnostics: the highest-dated row
// strictly before the quote date, or a same-day transaction-price row.
func searchTimeSeries(rows []store.Row, quoteDate time.Time) (match, ref store.Row) {
	if len(rows) == 0 {
		return nil, nil
	}

	firstDate, _ := asTime(rows[0][quoteDateCol])
	lastDate, _ := asTime(rows[len(rows)-1][quoteDateCol])
	firstDiff := absDays(dayOf(firstDate), quoteDate)
	lastDiff := absDays(dayOf(lastDate), quoteDate)

	indexes := make([]int, len(rows))
	for i := range rows {
		if firstDiff <= lastDiff {
			indexes[i] = i
		} else {
			indexes[i] = len(rows) - 1 - i
		}
	}

	var refDate time.Time
	for _, i := range indexes {
		row := rows[i]
		rowTime, ok := asTime(row[quoteDateCol])
		if !ok {
			continue
		}
		rowDate := dayOf(rowTime)
		src := asInt(row["src"])

		if rowDate.After(refDate) {
			if rowDate.Before(quoteDate) {
				refDate, ref = rowDate, row
			} else if rowDate.Equal(quoteDate) && src < srcManual {
				refDate, ref = rowDate, row
			}
		}
		if rowDate.Equal(quoteDate) && (src == srcManual || src == srcOnline) {
			match = row
			break
		}
	}
	return match, ref
}

func absDays(a, b time.Time) int64 {
	d := daysBetween(a, b)
	if d < 0 {
		return -d
	}
	return d
}
