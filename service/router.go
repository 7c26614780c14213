package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"keel/domain/orderbook"
)

// Router owns the explicit instrument → engine assignment. Routing is
// a plain map lookup, testable on its own; an order for an instrument
// nobody owns is a typed error, never a silent reassignment.
type Router struct {
	engines map[string]*Engine
	logger  *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		engines: make(map[string]*Engine),
		logger:  logger,
	}
}

// Register assigns an engine. Registration happens at boot, before
// ingestion starts; the map is read-only afterwards.
func (r *Router) Register(e *Engine) {
	r.engines[e.InstrumentID()] = e
}

// Engine resolves the owner of an instrument.
func (r *Router) Engine(instrumentID string) (*Engine, error) {
	e, ok := r.engines[instrumentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	return e, nil
}

// Dispatch routes one order to its owning engine.
func (r *Router) Dispatch(ctx context.Context, o *orderbook.Order) (ExecutionReport, error) {
	e, err := r.Engine(o.InstrumentID)
	if err != nil {
		return ExecutionReport{}, err
	}
	return e.Submit(ctx, o)
}

// Engines returns all registered engines in stable order.
func (r *Router) Engines() []*Engine {
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Engine, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.engines[id])
	}
	return out
}

// ReadyStates reports per-instrument readiness for the readiness probe.
func (r *Router) ReadyStates() map[string]bool {
	out := make(map[string]bool, len(r.engines))
	for id, e := range r.engines {
		out[id] = e.Ready()
	}
	return out
}
