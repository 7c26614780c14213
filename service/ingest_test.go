package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keel/domain/orderbook"
	"keel/infra/sequence"
	"keel/infra/wal"
)

type fakeSource struct {
	batches [][]kafka.Message
	commits [][]kafka.Message
	onDrain context.CancelFunc
}

func (f *fakeSource) FetchBatch(ctx context.Context) ([]kafka.Message, error) {
	if len(f.batches) == 0 {
		if f.onDrain != nil {
			f.onDrain()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) Commit(_ context.Context, msgs []kafka.Message) error {
	f.commits = append(f.commits, msgs)
	return nil
}

func orderMsg(t *testing.T, id uuid.UUID, instrument, side, price, qty string) kafka.Message {
	t.Helper()
	data, err := json.Marshal(orderMessage{
		OrderID:      id.String(),
		UserID:       uuid.New().String(),
		InstrumentID: instrument,
		Side:         side,
		Type:         "LIMIT",
		Intent:       "INCREASE",
		Price:        price,
		Quantity:     qty,
		SubmittedAt:  time.Now().UnixNano(),
	})
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func newTestRouter(t *testing.T) (*Router, *Engine) {
	eng := newTestEngine(t)
	r := NewRouter(zap.NewNop())
	r.Register(eng)
	return r, eng
}

func TestProcessBatchPerOrderOutcomes(t *testing.T) {
	router, eng := newTestRouter(t)
	src := &fakeSource{}
	in := NewIngestor(src, router, testPool(), zap.NewNop())

	msgs := []kafka.Message{
		orderMsg(t, uuid.New(), "BTC-USDT", "BUY", "99", "1.0"),
		{Value: []byte("not json")},
		orderMsg(t, uuid.New(), "DOGE-USDT", "BUY", "1", "1.0"),
	}

	require.NoError(t, in.processBatch(context.Background(), msgs))

	// One bad message and one unroutable order do not hold the batch
	// hostage: the good order landed and the whole batch was committed.
	require.Len(t, src.commits, 1)
	assert.Len(t, src.commits[0], 3)

	view, err := eng.Depth(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Bids, 1)
	assert.True(t, view.Bids[0].Quantity.Equal(d("1.0")))
}

func TestProcessBatchNoCommitOnShutdown(t *testing.T) {
	// A recovered engine whose loop is not running: submissions hang
	// until the context fires, as they would during shutdown.
	w, err := wal.Open(wal.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer w.Close()
	eng := NewEngine(
		EngineConfig{InstrumentID: "BTC-USDT", WALDir: t.TempDir(), SnapshotDir: t.TempDir()},
		orderbook.NewBook(nil),
		testDirectory(), w, testOutbox(t), sequence.New(0), testPool(), zap.NewNop(),
	)
	require.NoError(t, eng.Recover())
	router := NewRouter(zap.NewNop())
	router.Register(eng)

	src := &fakeSource{}
	in := NewIngestor(src, router, testPool(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs := []kafka.Message{orderMsg(t, uuid.New(), "BTC-USDT", "BUY", "99", "1.0")}
	err = in.processBatch(ctx, msgs)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.commits, "an interrupted batch must redeliver")
}

func TestProcessBatchRedeliveryIsIdempotent(t *testing.T) {
	router, eng := newTestRouter(t)
	src := &fakeSource{}
	in := NewIngestor(src, router, testPool(), zap.NewNop())

	msgs := []kafka.Message{orderMsg(t, uuid.New(), "BTC-USDT", "BUY", "99", "1.0")}
	require.NoError(t, in.processBatch(context.Background(), msgs))
	require.NoError(t, in.processBatch(context.Background(), msgs))

	// The duplicate was skipped, not re-applied.
	view, err := eng.Depth(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Bids, 1)
	assert.True(t, view.Bids[0].Quantity.Equal(d("1.0")))
	assert.Equal(t, 1, view.Bids[0].Orders)
	assert.Len(t, src.commits, 2, "redelivered batches still commit")
}

func TestProcessBatchRedeliveredFilledOrderSkipped(t *testing.T) {
	router, eng := newTestRouter(t)
	src := &fakeSource{}
	in := NewIngestor(src, router, testPool(), zap.NewNop())

	_, err := eng.Submit(context.Background(), limitOrder(orderbook.Sell, "100", "1.0"))
	require.NoError(t, err)

	// The buy fills completely, then a commit failure resends it.
	msgs := []kafka.Message{orderMsg(t, uuid.New(), "BTC-USDT", "BUY", "100", "1.0")}
	require.NoError(t, in.processBatch(context.Background(), msgs))
	require.NoError(t, in.processBatch(context.Background(), msgs))

	view, err := eng.Depth(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Bids, "a filled order must not match twice")
	assert.Empty(t, view.Asks)

	trades := 0
	_, err = wal.Replay(eng.cfg.WALDir, 0, func(r *wal.Record) error {
		if r.Type == wal.EntryTrade {
			trades++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, trades)
}

func TestRunFetchesAndCommitsUntilCancelled(t *testing.T) {
	router, eng := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		batches: [][]kafka.Message{
			{orderMsg(t, uuid.New(), "BTC-USDT", "SELL", "101", "2.0")},
		},
		onDrain: cancel,
	}
	in := NewIngestor(src, router, testPool(), zap.NewNop())

	err := in.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, src.commits, 1)

	view, err := eng.Depth(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Asks, 1)
}
