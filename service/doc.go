// Package service orchestrates the durable matching pipeline: the
// per-instrument engine loop, order routing, startup recovery, the
// periodic snapshot job, and batch ingestion from the inbound queue.
//
// One engine goroutine owns each instrument's book. Every state
// transition is WAL-appended before the book mutation it justifies is
// treated as committed, and every produced event lands in the outbox
// in the same unit of work as its trigger.
package service
