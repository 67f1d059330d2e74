package reconcile

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfinance/quotesync/internal/store"
)

// The ledger header is a single-row table carrying an opaque data blob.
// Named 32-bit little-endian counters live at fixed byte offsets inside it.
const (
	HeaderTable      = "DHD"
	HeaderBlobColumn = "rgbNhdata"
)

// HeaderField names one counter inside the header blob.
type HeaderField struct {
	Name   string
	Offset int
}

var (
	// NextSecurityKey is the next unused current-state record key.
	NextSecurityKey = HeaderField{Name: "hsec", Offset: 236}
	// NextPriceKey is the next unused time-series record key.
	NextPriceKey = HeaderField{Name: "hsp", Offset: 260}
)

// SequenceAllocator hands out primary keys for newly appended records. The
// counter is read from the header blob once at start-up, advanced in memory
// only, and written back at most once per run on Flush. The rest of the
// blob is carried through untouched.
type SequenceAllocator struct {
	st        store.Store
	field     HeaderField
	blob      []byte
	next      uint32
	allocated int
	log       zerolog.Logger
}

// NewSequenceAllocator reads the persisted counter for field.
func NewSequenceAllocator(ctx context.Context, st store.Store, field HeaderField, log zerolog.Logger) (*SequenceAllocator, error) {
	blob, err := st.ReadBlob(ctx, HeaderTable, HeaderBlobColumn)
	if err != nil {
		return nil, fmt.Errorf("read header blob: %w", err)
	}
	if len(blob) < field.Offset+4 {
		return nil, fmt.Errorf("header blob too short for %s counter: %d bytes", field.Name, len(blob))
	}
	a := &SequenceAllocator{
		st:    st,
		field: field,
		blob:  blob,
		next:  binary.LittleEndian.Uint32(blob[field.Offset:]),
		log:   log.With().Str("component", "sequence").Str("counter", field.Name).Logger(),
	}
	a.log.Debug().Uint32("next", a.next).Msg("loaded sequence counter")
	return a, nil
}

// Next returns a new unique key. Keys are strictly increasing in allocation
// order; the persisted counter is always the next unused key.
func (a *SequenceAllocator) Next() int64 {
	key := a.next
	a.next++
	a.allocated++
	return int64(key)
}

// Allocated returns the number of keys handed out this run.
func (a *SequenceAllocator) Allocated() int {
	return a.allocated
}

// Flush writes the advanced counter back into the header blob in place and
// hands the blob to the store in a single write. No-op when no keys were
// allocated.
func (a *SequenceAllocator) Flush(ctx context.Context) error {
	if a.allocated == 0 {
		return nil
	}
	binary.LittleEndian.PutUint32(a.blob[a.field.Offset:], a.next)
	if err := a.st.WriteBlob(ctx, HeaderTable, HeaderBlobColumn, a.blob); err != nil {
		return fmt.Errorf("write header blob: %w", err)
	}
	a.log.Debug().Uint32("next", a.next).Int("allocated", a.allocated).Msg("persisted sequence counter")
	a.allocated = 0
	return nil
}
