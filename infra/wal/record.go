package wal

import "time"

type EntryType uint8

const (
	EntryOrderAccepted EntryType = iota
	EntryOrderCancelled
	EntryTrade
	EntryBookUpdate
)

func (t EntryType) String() string {
	switch t {
	case EntryOrderAccepted:
		return "ORDER_ACCEPTED"
	case EntryOrderCancelled:
		return "ORDER_CANCELLED"
	case EntryTrade:
		return "TRADE"
	case EntryBookUpdate:
		return "BOOK_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Record is an immutable WAL entry. Seq is per-instrument, contiguous
// and strictly monotonic.
type Record struct {
	Type EntryType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t EntryType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
