package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keel/domain/instrument"
	"keel/domain/orderbook"
	"keel/infra/memory"
	"keel/infra/outbox"
	"keel/infra/sequence"
	"keel/infra/wal"
	"keel/service"
)

func newTestServer(t *testing.T, upstream string) (*Server, *instrument.Directory) {
	t.Helper()
	dir := instrument.NewDirectory(zap.NewNop())
	loader := instrument.NewLoader(upstream, dir, zap.NewNop())
	return NewServer(service.NewRouter(zap.NewNop()), dir, loader, zap.NewNop()), dir
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, "http://unused")
	rec := do(t, s.Handler(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzNoEngines(t *testing.T) {
	s, _ := newTestServer(t, "http://unused")
	rec := do(t, s.Handler(), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBookDepthUnknownInstrument(t *testing.T) {
	s, _ := newTestServer(t, "http://unused")
	rec := do(t, s.Handler(), http.MethodGet, "/v1/book/DOGE-USDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	dir := instrument.NewDirectory(zap.NewNop())
	dir.Replace([]instrument.Instrument{{
		ID:           "BTC-USDT",
		Symbol:       "BTCUSDT",
		MakerFeeRate: decimal.RequireFromString("0.001"),
		TakerFeeRate: decimal.RequireFromString("0.002"),
		Status:       instrument.StatusActive,
	}})

	walDir := t.TempDir()
	w, err := wal.Open(wal.Config{Dir: walDir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	ob, err := outbox.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ob.Close() })

	eng := service.NewEngine(
		service.EngineConfig{InstrumentID: "BTC-USDT", WALDir: walDir, SnapshotDir: t.TempDir(), DepthLevels: 10},
		orderbook.NewBook(nil), dir, w, ob, sequence.New(0),
		memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} }),
		zap.NewNop(),
	)
	require.NoError(t, eng.Recover())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)

	router := service.NewRouter(zap.NewNop())
	router.Register(eng)
	loader := instrument.NewLoader("http://unused", dir, zap.NewNop())
	h := NewServer(router, dir, loader, zap.NewNop()).Handler()

	o := &orderbook.Order{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		InstrumentID: "BTC-USDT",
		Side:         orderbook.Buy,
		Type:         orderbook.Limit,
		Price:        decimal.RequireFromString("99"),
		Quantity:     decimal.RequireFromString("1.0"),
		SubmittedAt:  time.Now(),
	}
	report, err := eng.Submit(ctx, o)
	require.NoError(t, err)
	require.Equal(t, orderbook.StatusNew, report.Status)

	rec := do(t, h, http.MethodDelete, "/v1/orders/BTC-USDT/"+o.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Remaining decimal.Decimal `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Remaining.Equal(decimal.RequireFromString("1.0")))

	view, err := eng.Depth(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Bids, "the cancelled order left the book")

	rec = do(t, h, http.MethodDelete, "/v1/orders/BTC-USDT/"+o.ID.String())
	assert.Equal(t, http.StatusNotFound, rec.Code, "a second cancel finds nothing")

	rec = do(t, h, http.MethodDelete, "/v1/orders/BTC-USDT/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/orders/DOGE-USDT/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstrumentLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"id": "BTC-USDT", "symbol": "BTCUSDT",
			"base_asset": "BTC", "quote_asset": "USDT",
			"maker_fee_rate": "0.001", "taker_fee_rate": "0.002",
			"contract_size": "1", "price_tick": "0.1", "status": "ACTIVE"
		}]`))
	}))
	defer upstream.Close()

	s, dir := newTestServer(t, upstream.URL)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/instruments/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dir.Len())

	rec = do(t, h, http.MethodGet, "/v1/instruments")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Instruments []instrument.Instrument `json:"instruments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Instruments, 1)
	assert.Equal(t, "BTC-USDT", body.Instruments[0].ID)

	rec = do(t, h, http.MethodDelete, "/v1/instruments")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, dir.Len())
}

func TestReloadUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	s, _ := newTestServer(t, upstream.URL)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/instruments/reload")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
