// Package attendance records at most one attendance entry per identity per
// calendar day on top of a durable append-only store.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DateLayout is the on-disk date format.
	DateLayout = "2006-01-02"
	// TimeLayout is the on-disk time-of-day format.
	TimeLayout = "15:04:05"
)

// Entry is one attendance row.
type Entry struct {
	Name string
	Date string
	Time string
}

// NewEntry builds the entry for name at now in local time.
func NewEntry(name string, now time.Time) Entry {
	return Entry{
		Name: name,
		Date: now.Format(DateLayout),
		Time: now.Format(TimeLayout),
	}
}

// Store is the durable backing of a ledger.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, e Entry) error
	Close() error
}

// ErrStore is wrapped by every IOError.
var ErrStore = errors.New("attendance store error")

// IOError reports a failed read or write of the attendance store.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("attendance %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrStore, e.Err} }
