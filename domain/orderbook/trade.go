package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeScale is the fixed decimal scale every fee is rounded to.
// All services that consume trades assume this scale.
const FeeScale = 8

// FeeRates are the instrument's maker/taker rates resolved by the caller
// from the instrument directory before matching.
type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Trade is produced once by a matching pass and immutable afterwards.
// Seq is assigned by the engine when the trade is logged; it is the
// dedup key for both the WAL and the outbox.
type Trade struct {
	ID           uuid.UUID
	InstrumentID string
	MakerOrderID uuid.UUID
	TakerOrderID uuid.UUID
	MakerUserID  uuid.UUID
	TakerUserID  uuid.UUID
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	MakerFee     decimal.Decimal
	TakerFee     decimal.Decimal
	ExecutedAt   time.Time
	Seq          uint64
}

// Fee computes price × quantity × rate rounded half-up at FeeScale.
func Fee(price, quantity, rate decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Mul(rate).Round(FeeScale)
}
