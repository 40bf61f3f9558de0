package attendance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var csvHeader = []string{"Name", "Date", "Time"}

// CSVStore appends entries to a CSV file with a Name,Date,Time header.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVStore prepares the CSV file at path, creating it with a header
// when it does not exist.
func NewCSVStore(path string) (*CSVStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	return &CSVStore{path: path}, nil
}

// Path returns the CSV file location.
func (s *CSVStore) Path() string {
	return s.path
}

// Load reads every row after the header.
func (s *CSVStore) Load(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var entries []Entry
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
		}

		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		if len(record) < 3 {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("failed to parse %s: line %d has %d fields", s.path, line, len(record))
		}
		entries = append(entries, Entry{Name: record[0], Date: record[1], Time: record[2]})
	}
	return entries, nil
}

// Append writes e as a new row and syncs it to disk.
func (s *CSVStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if err := terminateLastLine(f); err != nil {
		_ = f.Close()
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{e.Name, e.Date, e.Time}); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// terminateLastLine writes a newline when the file does not end in one,
// so a hand-edited ledger does not get the next row glued onto its last.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte("\n"))
	return err
}

// Close is a no-op; the file is opened per operation.
func (s *CSVStore) Close() error {
	return nil
}

func isHeader(record []string) bool {
	if len(record) != len(csvHeader) {
		return false
	}
	for i := range record {
		if record[i] != csvHeader[i] {
			return false
		}
	}
	return true
}
