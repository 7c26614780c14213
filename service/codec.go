package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"keel/domain/orderbook"
	"keel/infra/memory"
)

// orderMessage is the inbound wire shape of an order-created message.
// Conversion to the domain order is explicit and compiler-checked; a
// field that does not parse rejects the order at the edge.
type orderMessage struct {
	OrderID      string `json:"order_id"`
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Intent       string `json:"intent"`
	Price        string `json:"price,omitempty"`
	Quantity     string `json:"quantity"`
	SubmittedAt  int64  `json:"submitted_at"`
}

func decodeOrderMessage(data []byte, pool *memory.Pool[orderbook.Order]) (*orderbook.Order, error) {
	var m orderMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode order message: %w", err)
	}

	id, err := uuid.Parse(m.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}
	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	side, err := orderbook.ParseSide(m.Side)
	if err != nil {
		return nil, err
	}
	otype, err := orderbook.ParseOrderType(m.Type)
	if err != nil {
		return nil, err
	}
	intent, err := orderbook.ParseIntent(m.Intent)
	if err != nil {
		return nil, err
	}

	price := decimal.Zero
	if m.Price != "" {
		price, err = decimal.NewFromString(m.Price)
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}
	qty, err := decimal.NewFromString(m.Quantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}

	o := pool.Get()
	*o = orderbook.Order{
		ID:           id,
		UserID:       userID,
		InstrumentID: m.InstrumentID,
		Side:         side,
		Type:         otype,
		Intent:       intent,
		Price:        price,
		Quantity:     qty,
		Status:       orderbook.StatusNew,
		SubmittedAt:  time.Unix(0, m.SubmittedAt),
	}
	return o, nil
}
