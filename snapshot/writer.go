package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

type Writer struct {
	Dir string
}

func snapshotPath(dir, instrumentID string) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%s.bin", instrumentID))
}

// Write persists the snapshot atomically: encode to a temp file, fsync,
// rename over the previous snapshot. A crash at any point leaves either
// the old snapshot or the new one, never a torn file.
func (w *Writer) Write(s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	final := snapshotPath(w.Dir, s.InstrumentID)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := gob.NewEncoder(f).Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode snapshot %s: %w", s.InstrumentID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, final)
}
