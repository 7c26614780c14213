package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

const DefaultSegmentSize = 8 * 1024 * 1024

// WAL appends CRC-framed records to numbered segment files.
// Append fsyncs before returning: a committed record survives a crash.
type WAL struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
}

// Open creates the directory if needed and resumes appending to the
// highest-numbered existing segment, so restarts never write behind
// already-rotated segments.
func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	index := 0
	if files, err := listSegments(cfg.Dir); err != nil {
		return nil, err
	} else if len(files) > 0 {
		index, err = segmentIndex(files[len(files)-1])
		if err != nil {
			return nil, err
		}
	}

	// A crash can leave a torn frame at the tail of the resumed
	// segment. It must be cut off before any append: records written
	// after garbage are unreachable to replay.
	if err := repairSegment(segmentPath(cfg.Dir, index)); err != nil {
		return nil, err
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: index,
	}, nil
}

// Append durably persists the record before returning. A non-nil error
// means the record must be treated as never written: the triggering
// order is rejected, never applied to the book.
func (w *WAL) Append(r *Record) error {
	payloadLen := uint32(len(r.Data))

	// Frame:
	// [type:1][seq:8][time:8][len:4][payload][crc:4]
	buf := make([]byte, frameHeaderSize+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[frameHeaderSize:], r.Data)

	crc := CRC32(buf[:frameHeaderSize+payloadLen])
	binary.BigEndian.PutUint32(buf[frameHeaderSize+payloadLen:], crc)

	if err := w.current.append(buf); err != nil {
		return err
	}
	if err := w.current.sync(); err != nil {
		return err
	}

	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) rotate() error {
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore removes whole segments whose highest sequence number
// is <= seq. The segment currently open for appends is never removed.
// Failures are returned for logging; matching does not depend on them.
func (w *WAL) TruncateBefore(seq uint64) error {
	files, err := listSegments(w.dir)
	if err != nil {
		return err
	}

	var firstErr error
	for _, path := range files {
		if path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (w *WAL) Close() error {
	return w.current.close()
}

func listSegments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// repairSegment truncates the segment to its last complete, CRC-valid
// record. Only the segment about to be resumed for appends is ever
// repaired; rotated segments are immutable.
func repairSegment(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	valid, err := validPrefix(f)
	if err != nil {
		return err
	}
	if valid == st.Size() {
		return nil
	}
	if err := f.Truncate(valid); err != nil {
		return err
	}
	return f.Sync()
}

func segmentIndex(path string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(path), "segment-%06d.wal", &idx); err != nil {
		return 0, fmt.Errorf("parse segment name %q: %w", path, err)
	}
	return idx, nil
}
