package orderbook

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"keel/infra/memory"
)

var ErrOrderNotFound = errors.New("order not resting in book")

// MatchResult is the outcome of applying one taker order.
type MatchResult struct {
	Trades    []Trade
	Status    Status
	Filled    decimal.Decimal
	Remaining decimal.Decimal
	Resting   bool
}

// LevelView is one aggregated price level of a depth view.
type LevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Book holds the resting orders of a single instrument.
// Exactly one goroutine may mutate it.
type Book struct {
	Bids *LevelTree
	Asks *LevelTree

	byID map[uuid.UUID]*Order
	pool *memory.Pool[Order]
}

// NewBook creates an empty book. pool may be nil, in which case removed
// orders are left for the garbage collector instead of being recycled.
func NewBook(pool *memory.Pool[Order]) *Book {
	return &Book{
		Bids: NewLevelTree(),
		Asks: NewLevelTree(),
		byID: make(map[uuid.UUID]*Order),
		pool: pool,
	}
}

// Apply matches the taker against the opposite side, then rests any
// unfilled limit remainder. Market remainders are cancelled, never
// rested. The caller validates the order before it gets here.
func (b *Book) Apply(o *Order, fees FeeRates, now time.Time) MatchResult {
	trades := b.match(o, fees, now)

	resting := false
	switch {
	case o.Remaining().IsZero():
		o.Status = StatusFilled
	case o.Type == Limit:
		b.rest(o)
		resting = true
	default:
		o.Status = StatusCancelled
	}

	return MatchResult{
		Trades:    trades,
		Status:    o.Status,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Resting:   resting,
	}
}

// match runs the price-time-priority loop. The resting (maker) order's
// price is always the trade price. No self-trade prevention: an order
// may fill against the same user's resting order.
func (b *Book) match(taker *Order, fees FeeRates, now time.Time) []Trade {
	var trades []Trade

	for taker.Remaining().IsPositive() {
		var best *PriceLevel
		if taker.Side == Buy {
			best = b.Asks.Min()
			if best == nil || (taker.Type != Market && best.Price.GreaterThan(taker.Price)) {
				break
			}
		} else {
			best = b.Bids.Max()
			if best == nil || (taker.Type != Market && best.Price.LessThan(taker.Price)) {
				break
			}
		}

		maker := best.Head()
		qty := decimal.Min(taker.Remaining(), maker.Remaining())
		price := best.Price

		taker.Filled = taker.Filled.Add(qty)
		maker.Filled = maker.Filled.Add(qty)
		best.reduce(qty)

		trades = append(trades, Trade{
			ID:           uuid.New(),
			InstrumentID: taker.InstrumentID,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			MakerUserID:  maker.UserID,
			TakerUserID:  taker.UserID,
			Price:        price,
			Quantity:     qty,
			MakerFee:     Fee(price, qty, fees.Maker),
			TakerFee:     Fee(price, qty, fees.Taker),
			ExecutedAt:   now,
		})

		if maker.Remaining().IsZero() {
			maker.Status = StatusFilled
			b.remove(maker, best)
		} else {
			maker.Status = StatusPartiallyFilled
		}
	}

	if taker.Filled.IsPositive() && taker.Remaining().IsPositive() {
		taker.Status = StatusPartiallyFilled
	}
	return trades
}

// Cancel unlinks a resting order and returns its unfilled remainder.
func (b *Book) Cancel(orderID uuid.UUID) (decimal.Decimal, error) {
	o, ok := b.byID[orderID]
	if !ok {
		return decimal.Zero, ErrOrderNotFound
	}
	remaining := o.Remaining()
	o.Status = StatusCancelled

	lvl := b.sideTree(o.Side).Find(o.Price)
	b.remove(o, lvl)
	return remaining, nil
}

// Restore re-enters a resting order during snapshot load or WAL replay.
// It does not match; recovery re-applies taker flow separately.
func (b *Book) Restore(o *Order) {
	b.rest(o)
}

// Clear drops every resting order. Recovery uses it to restart from a
// clean book, so a failed replay attempt is never built upon.
func (b *Book) Clear() {
	b.Bids = NewLevelTree()
	b.Asks = NewLevelTree()
	b.byID = make(map[uuid.UUID]*Order)
}

// Lookup finds a resting order by id.
func (b *Book) Lookup(orderID uuid.UUID) (*Order, bool) {
	o, ok := b.byID[orderID]
	return o, ok
}

func (b *Book) BestBid() (decimal.Decimal, bool) {
	if lvl := b.Bids.Max(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Zero, false
}

func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if lvl := b.Asks.Min(); lvl != nil {
		return lvl.Price, true
	}
	return decimal.Zero, false
}

// Depth aggregates up to maxLevels per side, best price first.
// maxLevels <= 0 means unbounded.
func (b *Book) Depth(maxLevels int) (bids, asks []LevelView) {
	collect := func(lvl *PriceLevel, out *[]LevelView) bool {
		*out = append(*out, LevelView{Price: lvl.Price, Quantity: lvl.TotalQty, Orders: lvl.OrderCount})
		return maxLevels <= 0 || len(*out) < maxLevels
	}
	b.Bids.Descend(func(lvl *PriceLevel) bool { return collect(lvl, &bids) })
	b.Asks.Ascend(func(lvl *PriceLevel) bool { return collect(lvl, &asks) })
	return bids, asks
}

// WalkResting visits every resting order: bids best-first, then asks
// best-first, FIFO within each level. Snapshot capture depends on this
// order being deterministic.
func (b *Book) WalkResting(visit func(*Order)) {
	b.Bids.Descend(func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			visit(o)
		}
		return true
	})
	b.Asks.Ascend(func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			visit(o)
		}
		return true
	})
}

// ---------------- internals ----------------

func (b *Book) sideTree(s Side) *LevelTree {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}

func (b *Book) rest(o *Order) {
	lvl := b.sideTree(o.Side).GetOrCreate(o.Price)
	lvl.Enqueue(o)
	b.byID[o.ID] = o
}

func (b *Book) remove(o *Order, lvl *PriceLevel) {
	lvl.unlink(o)
	if lvl.head == nil {
		b.sideTree(o.Side).Delete(lvl.Price)
	}
	delete(b.byID, o.ID)
	if b.pool != nil {
		b.pool.Put(o)
	}
}
