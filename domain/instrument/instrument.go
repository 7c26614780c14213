// Package instrument holds the read-mostly directory of tradable
// instruments and their fee parameters. The directory is an explicit
// dependency of every engine; there are no process-wide singletons.
package instrument

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StatusActive = "ACTIVE"
	StatusHalted = "HALTED"
)

type Instrument struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	BaseAsset    string          `json:"base_asset"`
	QuoteAsset   string          `json:"quote_asset"`
	MakerFeeRate decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate decimal.Decimal `json:"taker_fee_rate"`
	ContractSize decimal.Decimal `json:"contract_size"`
	PriceTick    decimal.Decimal `json:"price_tick"`
	Status       string          `json:"status"`
}

// Directory maps instrument id to parameters. Reads are lock-free;
// updates build a fresh map and swap the pointer, never mutating a map
// a reader might be holding.
type Directory struct {
	byID   atomic.Pointer[map[string]Instrument]
	logger *zap.Logger
}

func NewDirectory(logger *zap.Logger) *Directory {
	d := &Directory{logger: logger}
	empty := make(map[string]Instrument)
	d.byID.Store(&empty)
	return d
}

func (d *Directory) Lookup(id string) (Instrument, bool) {
	m := *d.byID.Load()
	ins, ok := m[id]
	return ins, ok
}

func (d *Directory) All() []Instrument {
	m := *d.byID.Load()
	out := make([]Instrument, 0, len(m))
	for _, ins := range m {
		out = append(out, ins)
	}
	return out
}

func (d *Directory) Len() int {
	return len(*d.byID.Load())
}

// Replace swaps in a complete new instrument set.
func (d *Directory) Replace(instruments []Instrument) {
	m := make(map[string]Instrument, len(instruments))
	for _, ins := range instruments {
		m[ins.ID] = ins
	}
	d.byID.Store(&m)
	d.logger.Info("instrument directory replaced", zap.Int("instruments", len(m)))
}

// Clear empties the directory. Engines reject orders for instruments
// they can no longer resolve, so this is an operational kill switch.
func (d *Directory) Clear() {
	empty := make(map[string]Instrument)
	d.byID.Store(&empty)
	d.logger.Warn("instrument directory cleared")
}
