package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfinance/quotesync/internal/schema"
)

// MaxSymbolLen is the store's symbol size, excluding any exchange prefix.
const MaxSymbolLen = 12

// Symbols carrying an exchange or country prefix ("US:", "$LS:") are exempt
// from truncation.
var exchangePrefixRe = regexp.MustCompile(`^\$?..:.+`)

// validateRow applies the schema rules to a raw row: required columns must
// be present, optional columns are defaulted where a default is declared,
// the symbol is truncated to the store limit and checked against the set of
// trackable symbols. Returns the validated fields and the pending outcome
// for the row, or a rowFault rejecting it.
func validateRow(raw RawRow, sc schema.Schema, known map[string]bool, log zerolog.Logger) (map[string]string, Outcome, *rowFault) {
	out := make(map[string]string, len(raw))
	pending := OK

	for _, col := range sc.Required {
		v, ok := raw[col.Name]
		if !ok {
			return nil, pending, &rowFault{
				outcome: MissingRequired,
				message: fmt.Sprintf("missing required quote data for symbol %s: %s", raw["xSymbol"], col.Name),
			}
		}
		out[col.Name] = v
	}

	var missing, applied []string
	for _, col := range sc.OptionalColumns(raw["xType"]) {
		if v, ok := raw[col.Name]; ok {
			out[col.Name] = v
			continue
		}
		missing = append(missing, col.Name)
		pending = raise(pending, MissingOptional)
		if col.HasDefault {
			out[col.Name] = col.Default
			applied = append(applied, col.Name+"="+col.Default)
		}
	}

	symbol := out["xSymbol"]
	if runes := []rune(symbol); len(runes) > MaxSymbolLen && !exchangePrefixRe.MatchString(symbol) {
		truncated := string(runes[:MaxSymbolLen])
		log.Info().Str("symbol", symbol).Str("truncated", truncated).Msg("truncated symbol")
		out["xSymbol"] = truncated
		symbol = truncated
	}

	if !known[symbol] {
		return nil, pending, &rowFault{
			outcome: NotFound,
			message: fmt.Sprintf("cannot find symbol %s in symbols list", symbol),
		}
	}

	// One aggregated line per diagnostic category, never one per column.
	if len(missing) > 0 {
		log.Warn().Str("symbol", symbol).Msgf("missing optional quote data: %s", strings.Join(missing, ", "))
	}
	if len(applied) > 0 {
		log.Warn().Str("symbol", symbol).Msgf("applied optional default values: %s", strings.Join(applied, ", "))
	}

	return out, pending, nil
}
