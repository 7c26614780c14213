// Package outbox implements the transactional outbox: every domain
// event is durably recorded in the same unit of work as the trade that
// produced it, then drained to the broker by an asynchronous publisher.
// Rows survive crashes; redelivery is expected and consumers dedup by
// event id.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "SENT"
	case StatePublished:
		return "PUBLISHED"
	default:
		return "NEW"
	}
}

// Row is one event awaiting publication. EventID is derived from the
// sequence number and event type, so a redelivered row always carries
// the same id.
type Row struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Seq           uint64          `json:"seq"`
	State         State           `json:"state"`
	Retries       uint32          `json:"retries"`
	CreatedAt     int64           `json:"created_at"`
	PublishedAt   int64           `json:"published_at,omitempty"`
}

type Store struct {
	db     *pebble.DB
	logger *zap.Logger
}

func Open(dir string, logger *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // rows must survive a crash
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts a NEW row, fsynced. Re-appending an existing event id
// is benign (at-least-once redelivery); the stored row wins.
func (s *Store) Append(row *Row) error {
	key := keyFor(row.AggregateID, row.Seq)

	_, closer, err := s.db.Get(key)
	if err == nil {
		_ = closer.Close()
		s.logger.Debug("outbox row already present, skipping",
			zap.String("event_id", row.EventID))
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	if row.CreatedAt == 0 {
		row.CreatedAt = time.Now().UnixNano()
	}
	val, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode outbox row %s: %w", row.EventID, err)
	}
	return s.db.Set(key, val, pebble.Sync)
}

// Get returns the row for an aggregate/sequence pair.
func (s *Store) Get(aggregateID string, seq uint64) (*Row, error) {
	val, closer, err := s.db.Get(keyFor(aggregateID, seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var row Row
	if err := json.Unmarshal(val, &row); err != nil {
		return nil, fmt.Errorf("decode outbox row: %w", err)
	}
	return &row, nil
}

// ScanUnpublished visits every row not yet acknowledged by the broker,
// in key order — which is sequence order within each instrument.
func (s *Store) ScanUnpublished(fn func(*Row) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var row Row
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return fmt.Errorf("decode outbox row %s: %w", iter.Key(), err)
		}
		if row.State == StatePublished {
			continue
		}
		if err := fn(&row); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MarkSent records a publish attempt before it is made, so a crash
// between send and ack is visible as a possibly-delivered row.
func (s *Store) MarkSent(row *Row) error {
	row.State = StateSent
	row.Retries++
	return s.put(row)
}

// MarkPublished is called only after broker acknowledgment.
func (s *Store) MarkPublished(row *Row) error {
	row.State = StatePublished
	row.PublishedAt = time.Now().UnixNano()
	return s.put(row)
}

// PurgePublishedBefore deletes published rows older than the cutoff
// and returns how many were removed.
func (s *Store) PurgePublishedBefore(cutoff time.Time) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	purged := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var row Row
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			continue
		}
		if row.State != StatePublished || row.PublishedAt >= cutoff.UnixNano() {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, iter.Error()
}

const keyPrefix = "outbox/"

func keyFor(aggregateID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", keyPrefix, aggregateID, seq))
}

func (s *Store) put(row *Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode outbox row %s: %w", row.EventID, err)
	}
	return s.db.Set(keyFor(row.AggregateID, row.Seq), val, pebble.Sync)
}
