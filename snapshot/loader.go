package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"keel/domain/orderbook"
	"keel/infra/memory"
)

// Load reads the latest snapshot for an instrument. ok is false when
// no snapshot exists yet (fresh book); any other failure is an error
// the caller must treat as recovery failure.
func Load(dir, instrumentID string) (*Snapshot, bool, error) {
	f, err := os.Open(snapshotPath(dir, instrumentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", instrumentID, err)
	}
	return &s, true, nil
}

// Restore re-enters every resting order into an empty book. Orders go
// straight to their levels without matching: the snapshot was captured
// after a matching pass, so it cannot hold a crossable state.
func Restore(s *Snapshot, book *orderbook.Book, pool *memory.Pool[orderbook.Order]) error {
	for _, e := range s.Orders {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("snapshot order id: %w", err)
		}
		userID, err := uuid.Parse(e.UserID)
		if err != nil {
			return fmt.Errorf("snapshot user id: %w", err)
		}
		side, err := orderbook.ParseSide(e.Side)
		if err != nil {
			return err
		}
		otype, err := orderbook.ParseOrderType(e.Type)
		if err != nil {
			return err
		}
		intent, err := orderbook.ParseIntent(e.Intent)
		if err != nil {
			return err
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return fmt.Errorf("snapshot price: %w", err)
		}
		qty, err := decimal.NewFromString(e.Quantity)
		if err != nil {
			return fmt.Errorf("snapshot quantity: %w", err)
		}
		filled, err := decimal.NewFromString(e.Filled)
		if err != nil {
			return fmt.Errorf("snapshot filled: %w", err)
		}

		o := pool.Get()
		*o = orderbook.Order{
			ID:           id,
			UserID:       userID,
			InstrumentID: s.InstrumentID,
			Side:         side,
			Type:         otype,
			Intent:       intent,
			Price:        price,
			Quantity:     qty,
			Filled:       filled,
			Status:       orderbook.StatusNew,
			SubmittedAt:  time.Unix(0, e.SubmittedAt),
		}
		if filled.IsPositive() {
			o.Status = orderbook.StatusPartiallyFilled
		}
		book.Restore(o)
	}
	return nil
}
