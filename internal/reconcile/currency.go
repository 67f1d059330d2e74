package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/openfinance/quotesync/internal/schema"
	"github.com/openfinance/quotesync/internal/store"
)

const (
	currencyTable = "CRNC"
	rateTable     = "CRNC_EXCHG"
)

// CurrencyReconciler merges exchange-rate quotes into the rate table. There
// is no time series: each currency pair has at most one rate record, stored
// in one direction; an incoming quote for the reverse direction is inverted
// before comparison.
type CurrencyReconciler struct {
	crnc    store.Table
	fx      store.Table
	sc      schema.Schema
	summary *Summary
	symbols []Symbol
	known   map[string]bool
	log     zerolog.Logger
}

// NewCurrencyReconciler opens the currency tables and builds the working
// set of currency-pair pseudo-symbols ({base}{other}=X) from the store's
// online, non-hidden currencies against its default currency.
func NewCurrencyReconciler(ctx context.Context, st store.Store, catalog *schema.Catalog, summary *Summary, log zerolog.Logger) (*CurrencyReconciler, error) {
	sc, ok := catalog.Schema(schema.KindCurrency)
	if !ok {
		return nil, fmt.Errorf("no schema for instrument kind %s", schema.KindCurrency)
	}

	crnc, err := st.Table(currencyTable)
	if err != nil {
		return nil, err
	}
	fx, err := st.Table(rateTable)
	if err != nil {
		return nil, err
	}
	dhd, err := st.Table(HeaderTable)
	if err != nil {
		return nil, err
	}

	r := &CurrencyReconciler{
		crnc:    crnc,
		fx:      fx,
		sc:      sc,
		summary: summary,
		known:   make(map[string]bool),
		log:     log.With().Str("component", "currency").Logger(),
	}

	headerRow, found, err := dhd.FindFirst(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s row: %w", HeaderTable, err)
	}
	if !found {
		return nil, fmt.Errorf("%s table is empty", HeaderTable)
	}
	defKey := asInt(headerRow["hcrncDef"])

	rows, err := crnc.Scan(ctx, store.Pattern{"fOnline": true, "fHidden": false})
	if err != nil {
		return nil, fmt.Errorf("scan %s table: %w", currencyTable, err)
	}
	var baseIso string
	var others []string
	for _, row := range rows {
		iso := asString(row["szIsoCode"])
		if asInt(row["hcrnc"]) == defKey {
			baseIso = iso
			r.log.Info().Str("base", iso).Int64("hcrnc", defKey).Msg("base currency")
		} else {
			others = append(others, iso)
		}
	}
	if baseIso == "" {
		return nil, fmt.Errorf("base currency hcrnc=%d not found in %s table", defKey, currencyTable)
	}
	for _, iso := range others {
		symbol := baseIso + iso + "=X"
		r.known[symbol] = true
		r.symbols = append(r.symbols, Symbol{Symbol: symbol})
	}

	return r, nil
}

// Symbols returns the trackable currency-pair pseudo-symbols.
func (r *CurrencyReconciler) Symbols() []Symbol {
	return r.symbols
}

// Update reconciles one exchange-rate quote row.
func (r *CurrencyReconciler) Update(ctx context.Context, raw RawRow) (Outcome, error) {
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
	r.log.Info().Str("symbol", symbol).Msg("updating exchange rate")

	// The pair pseudo-symbol is two ISO codes plus the =X suffix.
	keys := [2]int64{}
	var err error
	if keys[0], err = r.currencyKey(ctx, symbol[0:3]); err != nil {
		return pending, err
	}
	if keys[1], err = r.currencyKey(ctx, symbol[3:6]); err != nil {
		return pending, err
	}

	newRate := asDecimal(typed["rate"])
	if !newRate.IsPositive() {
		// A zero rate would divide by zero when the record is stored in
		// the reverse direction; negative rates are meaningless.
		return r.reject(quoteType, &rowFault{
			outcome: InvalidRequired,
			message: fmt.Sprintf("invalid exchange rate for symbol %s: %s", symbol, newRate),
		}), nil
	}
	for i := 0; i < 2; i++ {
		pattern := store.Pattern{"hcrncFrom": keys[i], "hcrncTo": keys[(i+1)%2]}
		fxRow, found, err := r.fx.FindFirst(ctx, pattern)
		if err != nil {
			return pending, err
		}
		if !found {
			continue
		}
		if i == 1 {
			// Stored in the reverse direction.
			newRate = decimal.NewFromInt(1).Div(newRate)
			typed["rate"] = newRate
		}
		r.log.Debug().Int64("from", keys[i]).Int64("to", keys[(i+1)%2]).Msg("found exchange rate")

		oldRate := asDecimal(fxRow["rate"])
		if oldRate.Equal(newRate) {
			r.summary.Record(quoteType, NoChange)
			r.log.Info().Str("symbol", symbol).Str("rate", newRate.String()).
				Msg("skipped update, rate has not changed")
			return NoChange, nil
		}

		mergeRow(fxRow, typed)
		if err := r.fx.Update(ctx, pattern, fxRow); err != nil {
			return pending, err
		}
		r.summary.Record(quoteType, pending)
		r.log.Info().Str("symbol", symbol).Str("new_rate", newRate.String()).Str("old_rate", oldRate.String()).
			Msg("updated exchange rate")
		return pending, nil
	}

	r.summary.Record(quoteType, NotFound)
	r.log.Error().Str("symbol", symbol).Msg("cannot find previous exchange rate")
	return NotFound, nil
}

func (r *CurrencyReconciler) reject(quoteType string, fault *rowFault) Outcome {
	r.summary.Record(quoteType, fault.outcome)
	r.log.Error().Msg(fault.message)
	return fault.outcome
}

// currencyKey resolves a currency's store key from its ISO code, or -1.
func (r *CurrencyReconciler) currencyKey(ctx context.Context, isoCode string) (int64, error) {
	row, found, err := r.crnc.FindFirst(ctx, store.Pattern{"szIsoCode": isoCode})
	if err != nil {
		return -1, err
	}
	if !found {
		r.log.Warn().Str("currency", isoCode).Msg("cannot find currency")
		return -1, nil
	}
	return asInt(row["hcrnc"]), nil
}
