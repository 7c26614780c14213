// Package orderbook implements the in-memory order book and the
// price-time-priority matching algorithm. It maintains two red-black
// trees of price levels (bids descending, asks ascending), each level
// holding a FIFO queue of resting orders.
//
// The book is a single-writer structure: one engine goroutine owns it
// per instrument, so no locking happens on the match path. Durability
// is the caller's problem; the engine appends to the WAL before any
// mutation here is treated as committed.
package orderbook
