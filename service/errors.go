package service

import "errors"

var (
	// ErrEngineNotReady rejects orders for an instrument whose
	// recovery has not completed (or failed).
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrUnknownInstrument means no engine owns the instrument.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrRoutingMismatch means an order reached an engine that does
	// not own its instrument. This is a partitioning bug, never a
	// business outcome; the order is rejected, not reassigned.
	ErrRoutingMismatch = errors.New("order routed to wrong instrument engine")
)
