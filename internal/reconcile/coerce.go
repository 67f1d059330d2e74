package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/openfinance/quotesync/internal/schema"
)

// Timestamp columns. lastUpdateCol keeps full precision; quoteDateCol is
// truncated to day granularity and additionally accepts a bare date string.
const (
	lastUpdateCol = "dtLastUpdate"
	quoteDateCol  = "dt"
)

var (
	epochRe   = regexp.MustCompile(`^\d+$`)
	utcRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)
	bareDayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	decimalRe = regexp.MustCompile(`^[+-]?\d+\.\d+$`)
	integerRe = regexp.MustCompile(`^-?\d+$`)
)

// coerceRow converts validated string fields into typed values, dispatching
// on the column naming convention. A failed parse retries once with the
// schema default when one is declared; otherwise the column is invalid,
// fatally so when required.
func coerceRow(validated map[string]string, sc schema.Schema, pending Outcome, log zerolog.Logger) (TypedRow, Outcome, *rowFault) {
	typed := make(TypedRow, len(validated))
	var invalid, applied []string

	required := make(map[string]bool, len(sc.Required))
	for _, col := range sc.Required {
		required[col.Name] = true
	}

	for _, col := range sc.Columns(validated["xType"]) {
		value, ok := validated[col.Name]
		if !ok {
			continue
		}

		v, err := coerceValue(col.Name, value)
		if err != nil {
			invalid = append(invalid, col.Name+"="+value)
			if col.HasDefault {
				if dv, derr := coerceValue(col.Name, col.Default); derr == nil {
					typed[col.Name] = dv
					applied = append(applied, col.Name)
					pending = raise(pending, DefaultApplied)
					continue
				}
			}
			if required[col.Name] {
				return nil, pending, &rowFault{
					outcome: InvalidRequired,
					message: fmt.Sprintf("invalid required quote data for symbol %s: %s=%s", validated["xSymbol"], col.Name, value),
				}
			}
			// Invalid optional column is dropped from the typed row.
			pending = raise(pending, InvalidOptional)
			continue
		}
		typed[col.Name] = v
	}

	symbol := validated["xSymbol"]
	if len(invalid) > 0 {
		log.Warn().Str("symbol", symbol).Msgf("invalid quote data: %s", strings.Join(invalid, ", "))
	}
	if len(applied) > 0 {
		log.Warn().Str("symbol", symbol).Msgf("applied default values: %s", strings.Join(applied, ", "))
	}

	return typed, pending, nil
}

// coerceValue parses one column value per the naming conventions: the two
// timestamp columns first, then d-prefixed and rate columns as decimals,
// x-prefixed columns as opaque strings, and anything else as an integer.
func coerceValue(col, value string) (any, error) {
	switch {
	case col == lastUpdateCol && epochRe.MatchString(value):
		sec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return time.Unix(sec, 0), nil

	case col == lastUpdateCol && utcRe.MatchString(value):
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, err
		}
		return t.In(time.Local), nil

	case col == quoteDateCol && epochRe.MatchString(value):
		sec, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return dayOf(time.Unix(sec, 0)), nil

	case col == quoteDateCol && utcRe.MatchString(value):
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, err
		}
		return dayOf(t.In(time.Local)), nil

	case col == quoteDateCol && bareDayRe.MatchString(value):
		// A bare date is local midnight, no zone conversion.
		t, err := time.ParseInLocation("2006-01-02", value, time.Local)
		if err != nil {
			return nil, err
		}
		return t, nil

	case col == lastUpdateCol || col == quoteDateCol:
		return nil, fmt.Errorf("unparseable timestamp %q", value)

	case col == "rate" || strings.HasPrefix(col, "d"):
		if !decimalRe.MatchString(value) {
			return nil, fmt.Errorf("unparseable decimal %q", value)
		}
		return decimal.NewFromString(value)

	case strings.HasPrefix(col, "x"):
		// Internal routing fields pass through untouched.
		return value, nil

	case integerRe.MatchString(value):
		return strconv.ParseInt(value, 10, 64)

	default:
		return nil, fmt.Errorf("unparseable integer %q", value)
	}
}
