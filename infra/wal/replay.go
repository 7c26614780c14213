package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// frame header: [type:1][seq:8][time:8][len:4]
const frameHeaderSize = 21

type ReplayHandler func(*Record) error

// Replay streams every record with Seq > afterSeq to fn, in order,
// verifying CRCs and strict sequence monotonicity. A truncated record
// at the tail of the last segment is a torn write from a crash and
// terminates the replay cleanly; anywhere else it is corruption.
// It returns the highest sequence number seen, including skipped ones.
func Replay(dir string, afterSeq uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		last := i == len(files)-1

		f, err := os.Open(path)
		if err != nil {
			return lastSeq, err
		}

		for {
			rec, err := readRecord(f)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				if errors.Is(err, io.ErrUnexpectedEOF) && last {
					break
				}
				_ = f.Close()
				return lastSeq, fmt.Errorf("wal segment %s: %w", path, err)
			}

			if rec.Seq <= lastSeq {
				_ = f.Close()
				return lastSeq, fmt.Errorf("wal segment %s: non-monotonic seq %d after %d", path, rec.Seq, lastSeq)
			}
			lastSeq = rec.Seq

			if rec.Seq <= afterSeq {
				continue
			}
			if err := fn(rec); err != nil {
				_ = f.Close()
				return lastSeq, err
			}
		}
		_ = f.Close()
	}

	return lastSeq, nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := EntryType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, errors.New("crc mismatch")
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}

// validPrefix returns the byte offset just past the last complete,
// CRC-valid record. An append-only segment is only ever damaged at its
// tail, so the first unreadable frame marks the start of the torn
// suffix.
func validPrefix(f *os.File) (int64, error) {
	var offset int64
	for {
		if _, err := readRecord(f); err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, nil
		}
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		offset = pos
	}
}

// maxSeqInSegment scans one segment and returns the highest sequence
// number it holds. Used only by snapshot-driven truncation.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64

	for {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(f, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return max, nil
			}
			return max, err
		}

		seq := binary.BigEndian.Uint64(header[1:9])
		if seq > max {
			max = seq
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if _, err := f.Seek(int64(payloadLen+4), io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
