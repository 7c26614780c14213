// Package wal implements the segmented write-ahead log that makes
// matching state crash-recoverable. Records are CRC-framed, appended
// and fsynced before the in-memory book mutation they justify is
// treated as committed, and replayed in strict sequence order at
// startup. Segments are immutable once rotated; truncation only ever
// removes whole segments from the head, and only after a snapshot has
// superseded them.
package wal
