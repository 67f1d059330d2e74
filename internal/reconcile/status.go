package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Outcome classifies how one quote row ended up.
type Outcome int

const (
	OK Outcome = iota
	NoChange
	MissingOptional
	InvalidOptional
	DefaultApplied
	Stale
	StaleSuperseded
	MissingRequired
	InvalidRequired
	NotFound

	outcomeCount
)

// Severity orders outcomes worst-wins. The mapping below is total: every
// outcome has exactly one severity and exit code.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

// Process exit codes, one per severity.
const (
	ExitOK      = 0
	ExitWarning = 1
	ExitError   = 2
)

func (o Outcome) Severity() Severity {
	switch o {
	case OK, NoChange:
		return SeverityOK
	case MissingOptional, InvalidOptional, DefaultApplied, Stale, StaleSuperseded:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func (s Severity) ExitCode() int {
	switch s {
	case SeverityOK:
		return ExitOK
	case SeverityWarning:
		return ExitWarning
	default:
		return ExitError
	}
}

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case NoChange:
		return "no change"
	case MissingOptional:
		return "missing optional data"
	case InvalidOptional:
		return "invalid optional data"
	case DefaultApplied:
		return "defaults applied"
	case Stale:
		return "stale"
	case StaleSuperseded:
		return "stale superseded"
	case MissingRequired:
		return "missing required data"
	case InvalidRequired:
		return "invalid required data"
	case NotFound:
		return "not found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// updated reports whether the outcome wrote quote data to the store.
func (o Outcome) updated() bool {
	switch o {
	case OK, MissingOptional, InvalidOptional, DefaultApplied, StaleSuperseded:
		return true
	}
	return false
}

// Summary accumulates per-quote-type outcome counts and the worst severity
// seen across the run. One instance is shared by all reconcilers for a run;
// there is no ambient state.
type Summary struct {
	counts map[string]*[outcomeCount]int
	worst  Severity
	log    zerolog.Logger
}

func NewSummary(log zerolog.Logger) *Summary {
	return &Summary{
		counts: make(map[string]*[outcomeCount]int),
		log:    log.With().Str("component", "summary").Logger(),
	}
}

// Record counts an outcome against a quote type and raises the run's worst
// severity if needed.
func (s *Summary) Record(quoteType string, o Outcome) {
	if quoteType == "" {
		quoteType = "unknown"
	}
	counts, ok := s.counts[quoteType]
	if !ok {
		counts = &[outcomeCount]int{}
		s.counts[quoteType] = counts
	}
	counts[o]++
	if sev := o.Severity(); sev > s.worst {
		s.worst = sev
	}
}

// Worst returns the worst severity recorded so far.
func (s *Summary) Worst() Severity {
	return s.worst
}

// Finalize renders one summary line per quote type and the process exit
// code for the run.
func (s *Summary) Finalize() ([]string, int) {
	quoteTypes := make([]string, 0, len(s.counts))
	for qt := range s.counts {
		quoteTypes = append(quoteTypes, qt)
	}
	sort.Strings(quoteTypes)

	lines := make([]string, 0, len(quoteTypes))
	for _, qt := range quoteTypes {
		counts := s.counts[qt]
		var parts []string
		total, updated := 0, 0
		for o := Outcome(0); o < outcomeCount; o++ {
			n := counts[o]
			if n == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%d", o, n))
			total += n
			if o.updated() {
				updated += n
			}
		}
		lines = append(lines, fmt.Sprintf("quote type %s: updated=%d/%d [%s]",
			qt, updated, total, strings.Join(parts, ", ")))
	}
	return lines, s.worst.ExitCode()
}

// Log emits the summary lines at shutdown.
func (s *Summary) Log() int {
	lines, exitCode := s.Finalize()
	for _, line := range lines {
		s.log.Info().Msg(line)
	}
	return exitCode
}
