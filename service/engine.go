package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"keel/domain/event"
	"keel/domain/instrument"
	"keel/domain/orderbook"
	"keel/infra/backoff"
	"keel/infra/memory"
	"keel/infra/outbox"
	"keel/infra/sequence"
	"keel/infra/wal"
	"keel/snapshot"
)

// ExecutionReport is the per-order outcome returned to ingestion.
type ExecutionReport struct {
	OrderID   uuid.UUID
	Status    orderbook.Status
	Filled    decimal.Decimal
	Remaining decimal.Decimal
	Trades    []orderbook.Trade
	Reason    string
}

type EngineConfig struct {
	InstrumentID string
	WALDir       string
	SnapshotDir  string
	DepthLevels  int
}

// Engine is the single writer for one instrument. All book mutations
// flow through its command channel and happen on its goroutine, which
// makes price-time ordering deterministic without locks.
type Engine struct {
	cfg    EngineConfig
	book   *orderbook.Book
	dir    *instrument.Directory
	wal    *wal.WAL
	outbox *outbox.Store
	seq    *sequence.Sequencer
	pool   *memory.Pool[orderbook.Order]
	logger *zap.Logger

	// seen maps every accepted order id to its WAL sequence. The book
	// only knows resting orders, so this is what catches a redelivered
	// order that already filled or cancelled. Entries are pruned when a
	// snapshot supersedes their sequence, keeping the set bounded to
	// exactly what replay would rebuild from the retained WAL tail.
	seen map[uuid.UUID]uint64

	// pending holds outbox rows whose append failed; they are retried
	// before the next row so per-instrument order is preserved. Rows
	// still queued at a crash are restored from the WAL by Recover.
	pending []*outbox.Row

	cmds  chan engineCommand
	ready bool
	state chan struct{} // closed once ready; see Ready
}

// Commands form a closed set; the loop switches on the concrete type.
type engineCommand interface{ isEngineCommand() }

type placeCmd struct {
	order *orderbook.Order
	reply chan placeReply
}

type placeReply struct {
	report ExecutionReport
	err    error
}

type cancelCmd struct {
	orderID uuid.UUID
	reply   chan cancelReply
}

type cancelReply struct {
	remaining decimal.Decimal
	err       error
}

type depthCmd struct {
	reply chan event.OrderBookUpdated
}

type captureCmd struct {
	reply chan *snapshot.Snapshot
}

type truncateCmd struct {
	uptoSeq uint64
	reply   chan error
}

func (placeCmd) isEngineCommand()    {}
func (cancelCmd) isEngineCommand()   {}
func (depthCmd) isEngineCommand()    {}
func (captureCmd) isEngineCommand()  {}
func (truncateCmd) isEngineCommand() {}

func NewEngine(
	cfg EngineConfig,
	book *orderbook.Book,
	dir *instrument.Directory,
	w *wal.WAL,
	ob *outbox.Store,
	seq *sequence.Sequencer,
	pool *memory.Pool[orderbook.Order],
	logger *zap.Logger,
) *Engine {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	return &Engine{
		cfg:    cfg,
		book:   book,
		dir:    dir,
		wal:    w,
		outbox: ob,
		seq:    seq,
		pool:   pool,
		logger: logger.With(zap.String("instrument", cfg.InstrumentID)),
		seen:   make(map[uuid.UUID]uint64),
		cmds:   make(chan engineCommand, 256),
		state:  make(chan struct{}),
	}
}

func (e *Engine) InstrumentID() string { return e.cfg.InstrumentID }

// Ready reports whether recovery completed and the engine accepts orders.
func (e *Engine) Ready() bool {
	select {
	case <-e.state:
		return true
	default:
		return false
	}
}

func (e *Engine) markReady() {
	if !e.ready {
		e.ready = true
		close(e.state)
	}
}

// Start launches the owning goroutine. Call after Recover.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			switch c := cmd.(type) {
			case placeCmd:
				report, err := e.processPlace(c.order)
				c.reply <- placeReply{report: report, err: err}
			case cancelCmd:
				remaining, err := e.processCancel(c.orderID)
				c.reply <- cancelReply{remaining: remaining, err: err}
			case depthCmd:
				c.reply <- event.NewOrderBookUpdated(
					e.cfg.InstrumentID, e.book, e.cfg.DepthLevels, e.seq.Current(), time.Now())
			case captureCmd:
				c.reply <- snapshot.Capture(e.cfg.InstrumentID, e.seq.Current(), e.book)
			case truncateCmd:
				err := e.wal.TruncateBefore(c.uptoSeq)
				if err == nil {
					e.pruneSeen(c.uptoSeq)
				}
				c.reply <- err
			}
		}
	}
}

// Submit routes one order through the engine loop and waits for its
// execution report.
func (e *Engine) Submit(ctx context.Context, o *orderbook.Order) (ExecutionReport, error) {
	if o.InstrumentID != e.cfg.InstrumentID {
		return ExecutionReport{}, fmt.Errorf("%w: order %s targets %s, engine owns %s",
			ErrRoutingMismatch, o.ID, o.InstrumentID, e.cfg.InstrumentID)
	}
	if !e.Ready() {
		return ExecutionReport{}, fmt.Errorf("%w: %s", ErrEngineNotReady, e.cfg.InstrumentID)
	}

	reply := make(chan placeReply, 1)
	select {
	case e.cmds <- placeCmd{order: o, reply: reply}:
	case <-ctx.Done():
		return ExecutionReport{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.report, r.err
	case <-ctx.Done():
		return ExecutionReport{}, ctx.Err()
	}
}

// Cancel removes a resting order. The cancel is WAL-logged like any
// other input, so replay reproduces its effect.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	if !e.Ready() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrEngineNotReady, e.cfg.InstrumentID)
	}
	reply := make(chan cancelReply, 1)
	select {
	case e.cmds <- cancelCmd{orderID: orderID, reply: reply}:
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.remaining, r.err
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
}

// Depth returns the current aggregated book view.
func (e *Engine) Depth(ctx context.Context) (event.OrderBookUpdated, error) {
	if !e.Ready() {
		return event.OrderBookUpdated{}, fmt.Errorf("%w: %s", ErrEngineNotReady, e.cfg.InstrumentID)
	}
	reply := make(chan event.OrderBookUpdated, 1)
	select {
	case e.cmds <- depthCmd{reply: reply}:
	case <-ctx.Done():
		return event.OrderBookUpdated{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return event.OrderBookUpdated{}, ctx.Err()
	}
}

// CaptureSnapshot asks the engine loop for a consistent book capture.
func (e *Engine) CaptureSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if !e.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotReady, e.cfg.InstrumentID)
	}
	reply := make(chan *snapshot.Snapshot, 1)
	select {
	case e.cmds <- captureCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TruncateWAL drops WAL segments superseded by a written snapshot.
// Runs on the engine goroutine so it never races segment rotation.
func (e *Engine) TruncateWAL(ctx context.Context, uptoSeq uint64) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- truncateCmd{uptoSeq: uptoSeq, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------- engine-goroutine internals ----------------

func (e *Engine) processPlace(o *orderbook.Order) (ExecutionReport, error) {
	if reason := validateOrder(o); reason != "" {
		return e.reject(o, reason), nil
	}

	ins, ok := e.dir.Lookup(o.InstrumentID)
	if !ok {
		return e.reject(o, "instrument not in directory"), nil
	}
	if e.isDuplicate(o.ID) {
		// At-least-once ingestion can redeliver; re-applying would
		// double-fill, so a known order id is skipped as benign.
		return e.reject(o, "duplicate order id"), nil
	}
	fees := orderbook.FeeRates{Maker: ins.MakerFeeRate, Taker: ins.TakerFeeRate}

	payload, err := wal.EncodeOrder(o)
	if err != nil {
		return e.reject(o, "encode order"), err
	}

	// WAL-append-then-apply. A failed append never reaches the book,
	// and the sequence it would have used is rolled back so WAL
	// sequences stay contiguous.
	seq := e.seq.Next()
	if err := e.wal.Append(wal.NewRecord(wal.EntryOrderAccepted, seq, payload)); err != nil {
		e.seq.Reset(seq - 1)
		e.logger.Error("wal append failed, rejecting order",
			zap.String("order_id", o.ID.String()), zap.Error(err))
		return e.reject(o, "wal append failed"), fmt.Errorf("wal append: %w", err)
	}
	e.seen[o.ID] = seq

	now := time.Now()
	res := e.book.Apply(o, fees, now)

	for i := range res.Trades {
		t := &res.Trades[i]
		t.Seq = e.seq.Next()
		e.logTrade(t)
	}
	e.logBookUpdate(now)

	report := ExecutionReport{
		OrderID:   o.ID,
		Status:    res.Status,
		Filled:    res.Filled,
		Remaining: res.Remaining,
		Trades:    res.Trades,
	}
	if !res.Resting {
		e.pool.Put(o)
	}
	return report, nil
}

func (e *Engine) processCancel(orderID uuid.UUID) (decimal.Decimal, error) {
	if _, ok := e.book.Lookup(orderID); !ok {
		return decimal.Zero, orderbook.ErrOrderNotFound
	}

	payload, err := wal.EncodeCancel(e.cfg.InstrumentID, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	seq := e.seq.Next()
	if err := e.wal.Append(wal.NewRecord(wal.EntryOrderCancelled, seq, payload)); err != nil {
		e.seq.Reset(seq - 1)
		return decimal.Zero, fmt.Errorf("wal append: %w", err)
	}

	remaining, err := e.book.Cancel(orderID)
	if err != nil {
		return decimal.Zero, err
	}
	e.logBookUpdate(time.Now())
	return remaining, nil
}

// logTrade appends the trade to the WAL and records its outbox row.
// The matching effect is already durable through the accepted-order
// entry, so neither write can reject the order, but neither may be
// silently dropped either: the WAL append is retried to keep the
// sequence contiguous, and a failed outbox write is queued for retry
// and restored from the WAL at the next recovery.
func (e *Engine) logTrade(t *orderbook.Trade) {
	ev := event.NewTradeExecuted(*t)
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("encode trade event", zap.Error(err))
		return
	}
	if err := e.appendDerived(wal.NewRecord(wal.EntryTrade, t.Seq, data)); err != nil {
		e.logger.Error("trade wal append failed",
			zap.Uint64("seq", t.Seq), zap.Error(err))
	}
	e.appendOutbox(&outbox.Row{
		EventID:       event.ID(e.cfg.InstrumentID, t.Seq, event.TypeTradeExecuted),
		AggregateType: event.AggregateInstrument,
		AggregateID:   e.cfg.InstrumentID,
		EventType:     event.TypeTradeExecuted,
		Payload:       data,
		Seq:           t.Seq,
	})
}

func (e *Engine) logBookUpdate(now time.Time) {
	seq := e.seq.Next()
	ev := event.NewOrderBookUpdated(e.cfg.InstrumentID, e.book, e.cfg.DepthLevels, seq, now)
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("encode book update", zap.Error(err))
		return
	}
	if err := e.appendDerived(wal.NewRecord(wal.EntryBookUpdate, seq, data)); err != nil {
		e.logger.Error("book update wal append failed",
			zap.Uint64("seq", seq), zap.Error(err))
	}
	e.appendOutbox(&outbox.Row{
		EventID:       event.ID(e.cfg.InstrumentID, seq, event.TypeOrderBookUpdated),
		AggregateType: event.AggregateInstrument,
		AggregateID:   e.cfg.InstrumentID,
		EventType:     event.TypeOrderBookUpdated,
		Payload:       data,
		Seq:           seq,
	})
}

const derivedAppendAttempts = 3

// appendDerived persists a trade or book-update record. The sequence
// such a record consumed must land in the WAL to keep the instrument's
// numbering contiguous, so transient failures are retried while the
// engine goroutine blocks, matching the durability-before-progress
// rule of the accept path.
func (e *Engine) appendDerived(rec *wal.Record) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = e.wal.Append(rec); err == nil {
			return nil
		}
		if attempt == derivedAppendAttempts-1 {
			return err
		}
		time.Sleep(backoff.Delay(attempt))
	}
}

// appendOutbox records the event row for publication. A row that
// cannot be written now is queued and retried before the next one, so
// rows reach the store in sequence order; the WAL keeps a durable copy
// either way, and recovery re-inserts whatever a crash drops here.
func (e *Engine) appendOutbox(row *outbox.Row) {
	e.flushPendingRows()
	if len(e.pending) > 0 {
		e.pending = append(e.pending, row)
		return
	}
	if err := e.outbox.Append(row); err != nil {
		e.logger.Error("outbox append failed, queued for retry",
			zap.String("event_id", row.EventID), zap.Error(err))
		e.pending = append(e.pending, row)
	}
}

func (e *Engine) flushPendingRows() {
	for len(e.pending) > 0 {
		if err := e.outbox.Append(e.pending[0]); err != nil {
			return
		}
		e.pending = e.pending[1:]
	}
}

// isDuplicate reports whether the order id was already accepted. The
// resting-book check covers orders restored from a snapshot, whose
// accept entries predate the replayed WAL tail.
func (e *Engine) isDuplicate(id uuid.UUID) bool {
	if _, resting := e.book.Lookup(id); resting {
		return true
	}
	_, accepted := e.seen[id]
	return accepted
}

// pruneSeen drops dedup entries whose accept sequence a snapshot has
// superseded. The retained horizon equals what replay rebuilds from
// the WAL tail, so a restarted engine rejects the same redeliveries a
// live one would. Redelivery windows are consumer-lag sized and far
// shorter than a snapshot interval.
func (e *Engine) pruneSeen(uptoSeq uint64) {
	for id, seq := range e.seen {
		if seq <= uptoSeq {
			delete(e.seen, id)
		}
	}
}

func (e *Engine) reject(o *orderbook.Order, reason string) ExecutionReport {
	o.Status = orderbook.StatusRejected
	report := ExecutionReport{
		OrderID:   o.ID,
		Status:    orderbook.StatusRejected,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Reason:    reason,
	}
	e.logger.Warn("order rejected",
		zap.String("order_id", o.ID.String()), zap.String("reason", reason))
	e.pool.Put(o)
	return report
}

func validateOrder(o *orderbook.Order) string {
	if !o.Quantity.IsPositive() {
		return "quantity must be positive"
	}
	if o.Type == orderbook.Limit && !o.Price.IsPositive() {
		return "limit price must be positive"
	}
	if !o.Filled.IsZero() {
		return "new order must have zero filled quantity"
	}
	return ""
}
