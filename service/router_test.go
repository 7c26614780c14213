package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keel/domain/orderbook"
)

func TestRouterDispatch(t *testing.T) {
	eng := newTestEngine(t)
	r := NewRouter(zap.NewNop())
	r.Register(eng)

	report, err := r.Dispatch(context.Background(), limitOrder(orderbook.Buy, "99", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, orderbook.StatusNew, report.Status)

	o := limitOrder(orderbook.Buy, "1", "1.0")
	o.InstrumentID = "DOGE-USDT"
	_, err = r.Dispatch(context.Background(), o)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestRouterEnginesStableOrder(t *testing.T) {
	dir := testDirectory()
	r := NewRouter(zap.NewNop())
	r.Register(newEngine(t, "ETH-USDT", t.TempDir(), t.TempDir(), dir, testOutbox(t)))
	r.Register(newEngine(t, "BTC-USDT", t.TempDir(), t.TempDir(), dir, testOutbox(t)))

	engines := r.Engines()
	require.Len(t, engines, 2)
	assert.Equal(t, "BTC-USDT", engines[0].InstrumentID())
	assert.Equal(t, "ETH-USDT", engines[1].InstrumentID())

	states := r.ReadyStates()
	assert.True(t, states["BTC-USDT"])
	assert.True(t, states["ETH-USDT"])

	_, err := r.Engine("SOL-USDT")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}
