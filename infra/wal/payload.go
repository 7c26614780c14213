package wal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"keel/domain/orderbook"
)

// OrderPayload is the wire form of an accepted order inside a WAL
// record. Decimals travel as strings so replay reconstructs the exact
// values that were matched.
type OrderPayload struct {
	OrderID      string `json:"order_id"`
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Intent       string `json:"intent"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	SubmittedAt  int64  `json:"submitted_at"`
}

func EncodeOrder(o *orderbook.Order) ([]byte, error) {
	return json.Marshal(OrderPayload{
		OrderID:      o.ID.String(),
		UserID:       o.UserID.String(),
		InstrumentID: o.InstrumentID,
		Side:         o.Side.String(),
		Type:         o.Type.String(),
		Intent:       o.Intent.String(),
		Price:        o.Price.String(),
		Quantity:     o.Quantity.String(),
		SubmittedAt:  o.SubmittedAt.UnixNano(),
	})
}

func DecodeOrder(data []byte) (OrderPayload, error) {
	var p OrderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return OrderPayload{}, fmt.Errorf("decode order payload: %w", err)
	}
	return p, nil
}

// Order converts the payload back to a domain order. Every field is
// parsed explicitly; a payload that does not round-trip is corruption,
// not something to paper over.
func (p OrderPayload) Order() (orderbook.Order, error) {
	id, err := uuid.Parse(p.OrderID)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("order id: %w", err)
	}
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("user id: %w", err)
	}
	side, err := orderbook.ParseSide(p.Side)
	if err != nil {
		return orderbook.Order{}, err
	}
	otype, err := orderbook.ParseOrderType(p.Type)
	if err != nil {
		return orderbook.Order{}, err
	}
	intent, err := orderbook.ParseIntent(p.Intent)
	if err != nil {
		return orderbook.Order{}, err
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("price: %w", err)
	}
	qty, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("quantity: %w", err)
	}

	return orderbook.Order{
		ID:           id,
		UserID:       userID,
		InstrumentID: p.InstrumentID,
		Side:         side,
		Type:         otype,
		Intent:       intent,
		Price:        price,
		Quantity:     qty,
		Status:       orderbook.StatusNew,
		SubmittedAt:  time.Unix(0, p.SubmittedAt),
	}, nil
}

// CancelPayload is the wire form of a cancel request. Cancels are
// logged like any other input so replay reproduces their effect.
type CancelPayload struct {
	OrderID      string `json:"order_id"`
	InstrumentID string `json:"instrument_id"`
}

func EncodeCancel(instrumentID string, orderID uuid.UUID) ([]byte, error) {
	return json.Marshal(CancelPayload{OrderID: orderID.String(), InstrumentID: instrumentID})
}

func DecodeCancel(data []byte) (uuid.UUID, error) {
	var p CancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return uuid.Nil, fmt.Errorf("decode cancel payload: %w", err)
	}
	id, err := uuid.Parse(p.OrderID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("cancel order id: %w", err)
	}
	return id, nil
}
