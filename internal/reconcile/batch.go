package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfinance/quotesync/internal/store"
)

// BatchAppender stages new time-series rows across a run and submits them
// as one bulk append at the end, then persists the sequence counter. Append
// and counter write are a unit: a failed append leaves the counter on disk
// untouched.
type BatchAppender struct {
	table store.Table
	seq   *SequenceAllocator
	rows  []store.Row
	log   zerolog.Logger
}

func NewBatchAppender(table store.Table, seq *SequenceAllocator, log zerolog.Logger) *BatchAppender {
	return &BatchAppender{
		table: table,
		seq:   seq,
		log:   log.With().Str("component", "batch").Logger(),
	}
}

// Stage queues one new row for the end-of-run append.
func (b *BatchAppender) Stage(row store.Row) {
	b.rows = append(b.rows, row)
}

// Len returns the number of staged rows.
func (b *BatchAppender) Len() int {
	return len(b.rows)
}

// Flush appends the staged rows and persists the advanced counter. No-op
// when nothing was staged.
func (b *BatchAppender) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	total, err := b.table.Append(ctx, b.rows)
	if err != nil {
		return err
	}
	b.log.Info().Int("appended", len(b.rows)).Int("total_rows", total).Msg("appended new quotes")
	b.rows = nil
	return b.seq.Flush(ctx)
}
