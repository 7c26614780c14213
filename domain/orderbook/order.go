package orderbook

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(v string) (Side, error) {
	switch v {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

type OrderType uint8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "MARKET"
	}
	return "LIMIT"
}

func ParseOrderType(v string) (OrderType, error) {
	switch v {
	case "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", v)
	}
}

// Intent records what the order does to the submitter's position.
// Matching does not branch on it; it is carried through to settlement.
type Intent uint8

const (
	Increase Intent = iota
	Reduce
	Close
)

func (i Intent) String() string {
	switch i {
	case Reduce:
		return "REDUCE"
	case Close:
		return "CLOSE"
	default:
		return "INCREASE"
	}
}

func ParseIntent(v string) (Intent, error) {
	switch v {
	case "INCREASE":
		return Increase, nil
	case "REDUCE":
		return Reduce, nil
	case "CLOSE":
		return Close, nil
	default:
		return 0, fmt.Errorf("unknown intent %q", v)
	}
}

type Status uint8

const (
	StatusNew Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "NEW"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

type Order struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	InstrumentID string
	Side         Side
	Type         OrderType
	Intent       Intent
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Filled       decimal.Decimal
	Status       Status
	SubmittedAt  time.Time

	// intrusive FIFO links within a price level
	next *Order
	prev *Order
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

func (o *Order) Next() *Order { return o.next }

// Reset clears the order for pool reuse.
func (o *Order) Reset() { *o = Order{} }
