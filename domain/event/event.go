// Package event defines the domain events published downstream via
// the outbox: TradeExecuted for the ledger, OrderBookUpdated for
// market data. Event ids are derived, not random, so redelivery
// always carries the same id and consumers can dedup.
package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"keel/domain/orderbook"
)

const (
	TypeTradeExecuted    = "TradeExecuted"
	TypeOrderBookUpdated = "OrderBookUpdated"

	AggregateInstrument = "instrument"
)

// ID derives the globally unique event id from the per-instrument
// sequence number and event type.
func ID(instrumentID string, seq uint64, eventType string) string {
	return fmt.Sprintf("%s-%d-%s", instrumentID, seq, eventType)
}

type TradeExecuted struct {
	TradeID      string          `json:"trade_id"`
	OrderID      string          `json:"order_id"`
	MakerOrderID string          `json:"maker_order_id"`
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Fee          decimal.Decimal `json:"fee"`
	MakerFee     decimal.Decimal `json:"maker_fee"`
	ExecutedAt   time.Time       `json:"executed_at"`
	Seq          uint64          `json:"seq"`
}

// NewTradeExecuted builds the ledger-facing view of a trade. OrderID
// is the taker's: the order whose submission caused the trade. Fee is
// the taker fee; MakerFee rides along for the maker's account entry.
func NewTradeExecuted(t orderbook.Trade) TradeExecuted {
	return TradeExecuted{
		TradeID:      t.ID.String(),
		OrderID:      t.TakerOrderID.String(),
		MakerOrderID: t.MakerOrderID.String(),
		InstrumentID: t.InstrumentID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		Fee:          t.TakerFee,
		MakerFee:     t.MakerFee,
		ExecutedAt:   t.ExecutedAt,
		Seq:          t.Seq,
	}
}

type OrderBookUpdated struct {
	InstrumentID string                `json:"instrument_id"`
	Bids         []orderbook.LevelView `json:"bids"`
	Asks         []orderbook.LevelView `json:"asks"`
	BestBid      *decimal.Decimal      `json:"best_bid,omitempty"`
	BestAsk      *decimal.Decimal      `json:"best_ask,omitempty"`
	MidPrice     *decimal.Decimal      `json:"mid_price,omitempty"`
	Seq          uint64                `json:"seq"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewOrderBookUpdated captures a depth view of the book. Best prices
// and mid are omitted on an empty side rather than encoded as zero.
func NewOrderBookUpdated(instrumentID string, book *orderbook.Book, depthLevels int, seq uint64, now time.Time) OrderBookUpdated {
	bids, asks := book.Depth(depthLevels)
	ev := OrderBookUpdated{
		InstrumentID: instrumentID,
		Bids:         bids,
		Asks:         asks,
		Seq:          seq,
		UpdatedAt:    now,
	}
	if bid, ok := book.BestBid(); ok {
		ev.BestBid = &bid
	}
	if ask, ok := book.BestAsk(); ok {
		ev.BestAsk = &ask
	}
	if ev.BestBid != nil && ev.BestAsk != nil {
		mid := ev.BestBid.Add(*ev.BestAsk).Div(decimal.NewFromInt(2))
		ev.MidPrice = &mid
	}
	return ev
}
