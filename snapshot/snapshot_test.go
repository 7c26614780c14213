package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/domain/orderbook"
	"keel/infra/memory"
)

func testPool() *memory.Pool[orderbook.Order] {
	return memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} })
}

func resting(side orderbook.Side, price, qty, filled string) *orderbook.Order {
	o := &orderbook.Order{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		InstrumentID: "BTC-USDT",
		Side:         side,
		Type:         orderbook.Limit,
		Price:        decimal.RequireFromString(price),
		Quantity:     decimal.RequireFromString(qty),
		Filled:       decimal.RequireFromString(filled),
		SubmittedAt:  time.Unix(0, 1700000000000000001),
	}
	if o.Filled.IsPositive() {
		o.Status = orderbook.StatusPartiallyFilled
	}
	return o
}

func seedBook(t *testing.T) *orderbook.Book {
	t.Helper()
	b := orderbook.NewBook(nil)
	b.Restore(resting(orderbook.Buy, "99", "1.0", "0.25"))
	b.Restore(resting(orderbook.Buy, "99", "0.5", "0"))
	b.Restore(resting(orderbook.Buy, "98", "2.0", "0"))
	b.Restore(resting(orderbook.Sell, "101", "1.5", "0.5"))
	return b
}

func TestCaptureWriteLoadRestore(t *testing.T) {
	book := seedBook(t)
	snap := Capture("BTC-USDT", 42, book)
	require.Len(t, snap.Orders, 4)
	assert.Equal(t, uint64(42), snap.AsOfSeq)

	dir := t.TempDir()
	w := &Writer{Dir: dir}
	require.NoError(t, w.Write(snap))

	loaded, ok, err := Load(dir, "BTC-USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.AsOfSeq, loaded.AsOfSeq)
	assert.Equal(t, snap.Orders, loaded.Orders)

	restored := orderbook.NewBook(nil)
	require.NoError(t, Restore(loaded, restored, testPool()))

	// Re-capturing the restored book must reproduce the snapshot exactly,
	// including FIFO order within levels and partial-fill state.
	again := Capture("BTC-USDT", 42, restored)
	assert.Equal(t, snap.Orders, again.Orders)
}

func TestTwoCapturesOfSameStateAreIdentical(t *testing.T) {
	book := seedBook(t)
	a := Capture("BTC-USDT", 7, book)
	b := Capture("BTC-USDT", 7, book)
	assert.Equal(t, a.Orders, b.Orders)
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	snap, ok, err := Load(t.TempDir(), "BTC-USDT")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestWriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	old := Capture("BTC-USDT", 1, seedBook(t))
	require.NoError(t, w.Write(old))

	book := seedBook(t)
	book.Restore(resting(orderbook.Sell, "102", "1.0", "0"))
	newer := Capture("BTC-USDT", 9, book)
	require.NoError(t, w.Write(newer))

	loaded, ok, err := Load(dir, "BTC-USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), loaded.AsOfSeq)
	assert.Len(t, loaded.Orders, 5)

	// No temp files left behind.
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRestoreRejectsCorruptEntries(t *testing.T) {
	snap := &Snapshot{
		InstrumentID: "BTC-USDT",
		AsOfSeq:      1,
		Orders: []RestingOrder{{
			ID:       "not-a-uuid",
			UserID:   uuid.New().String(),
			Side:     "BUY",
			Type:     "LIMIT",
			Intent:   "INCREASE",
			Price:    "100",
			Quantity: "1",
			Filled:   "0",
		}},
	}
	err := Restore(snap, orderbook.NewBook(nil), testPool())
	assert.Error(t, err)
}

func TestLoadCorruptFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(snapshotPath(dir, "BTC-USDT"), []byte("not a gob"), 0o644))

	_, _, err := Load(dir, "BTC-USDT")
	assert.Error(t, err)
}
