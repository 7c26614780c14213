// Package sequence issues the per-instrument sequence numbers that
// totally order WAL entries, trades, and outbox rows.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic sequence numbers for one
// instrument. Numbers are contiguous and never reused; after recovery
// it is Reset to the last replayed WAL sequence.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer. start is the last already-issued number,
// zero on a fresh book.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset rewinds the sequencer. Only recovery may call this.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
