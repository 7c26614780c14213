// Package snapshot serializes per-instrument book state tagged with
// the WAL sequence it reflects, bounding recovery replay time. Writes
// are write-temp-then-rename so a crash mid-snapshot never corrupts
// the previous one.
package snapshot

import (
	"time"

	"keel/domain/orderbook"
)

// RestingOrder is the serialized form of one resting order. Decimals
// are stored as strings: two captures of the same book state must
// encode byte-identically.
type RestingOrder struct {
	ID          string
	UserID      string
	Side        string
	Type        string
	Intent      string
	Price       string
	Quantity    string
	Filled      string
	SubmittedAt int64
}

type Snapshot struct {
	InstrumentID string
	AsOfSeq      uint64
	CreatedAt    time.Time
	Orders       []RestingOrder
}

// Capture walks the live book in its deterministic order (bids
// best-first, asks best-first, FIFO within levels). The caller must be
// the book's owning goroutine.
func Capture(instrumentID string, asOfSeq uint64, book *orderbook.Book) *Snapshot {
	s := &Snapshot{
		InstrumentID: instrumentID,
		AsOfSeq:      asOfSeq,
		CreatedAt:    time.Now(),
		Orders:       make([]RestingOrder, 0, 1024),
	}
	book.WalkResting(func(o *orderbook.Order) {
		s.Orders = append(s.Orders, RestingOrder{
			ID:          o.ID.String(),
			UserID:      o.UserID.String(),
			Side:        o.Side.String(),
			Type:        o.Type.String(),
			Intent:      o.Intent.String(),
			Price:       o.Price.String(),
			Quantity:    o.Quantity.String(),
			Filled:      o.Filled.String(),
			SubmittedAt: o.SubmittedAt.UnixNano(),
		})
	})
	return s
}
