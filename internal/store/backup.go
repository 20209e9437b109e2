package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/finsight-labs/edgar-insights/internal/model"
)

// BackupWriter appends each persisted insight to a JSONL file. The backup
// survives database loss and is the input to the import command. Appends
// are serialized; the file is opened once and synced per record so a crash
// loses at most the insight being written.
type BackupWriter struct {
	mu sync.Mutex
	f  *os.File
}

// NewBackupWriter opens (or creates) the backup file for appending.
func NewBackupWriter(path string) (*BackupWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "backup: mkdir %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "backup: open %s", path)
	}
	return &BackupWriter{f: f}, nil
}

// Append writes one insight as a single JSON line.
func (w *BackupWriter) Append(in *model.Insight) error {
	line, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "backup: marshal insight")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return eris.Wrap(err, "backup: append")
	}
	return eris.Wrap(w.f.Sync(), "backup: sync")
}

func (w *BackupWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadBackup loads every insight from a JSONL backup file. Later lines win
// when the same (ticker, year) appears more than once, matching upsert
// semantics on import.
func ReadBackup(path string) ([]*model.Insight, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "backup: open %s", path)
	}
	defer f.Close()

	byKey := make(map[string]int)
	var out []*model.Insight

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var in model.Insight
		if err := json.Unmarshal(line, &in); err != nil {
			return nil, eris.Wrap(err, "backup: parse line")
		}
		key := model.WorkItem{Ticker: in.Ticker, Year: in.Year}.Key()
		if i, seen := byKey[key]; seen {
			out[i] = &in
			continue
		}
		byKey[key] = len(out)
		out = append(out, &in)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "backup: read %s", path)
	}
	return out, nil
}
