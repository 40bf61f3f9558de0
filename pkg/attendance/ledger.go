package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome is the result of Mark.
type Outcome int

const (
	// Recorded means a new entry was appended.
	Recorded Outcome = iota
	// AlreadyMarked means name already has an entry for the day.
	AlreadyMarked
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case AlreadyMarked:
		return "already_marked"
	default:
		return "unknown"
	}
}

type key struct {
	name string
	date string
}

// Ledger keeps the (name, date) index in memory and appends new entries
// to its Store. Mark is expected to be called from a single goroutine.
type Ledger struct {
	store Store
	log   *logrus.Entry

	mu     sync.RWMutex
	marked map[key]struct{}
	rows   []Entry
}

// Open loads every existing entry from store and builds the index.
func Open(ctx context.Context, store Store, log *logrus.Entry) (*Ledger, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, &IOError{Op: "load", Err: err}
	}

	l := &Ledger{
		store:  store,
		log:    log,
		marked: make(map[key]struct{}, len(entries)),
		rows:   entries,
	}
	for _, e := range entries {
		l.marked[key{e.Name, e.Date}] = struct{}{}
	}

	log.WithField("entries", len(entries)).Debug("Attendance ledger loaded")
	return l, nil
}

// HasMarkedToday reports whether name has an entry dated today.
func (l *Ledger) HasMarkedToday(name string, today time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.marked[key{name, today.Format(DateLayout)}]
	return ok
}

// Mark records name at now unless it is already recorded for that day.
// The index changes only after the store accepted the entry, so a failed
// append leaves the identity unmarked.
func (l *Ledger) Mark(ctx context.Context, name string, now time.Time) (Outcome, error) {
	if l.HasMarkedToday(name, now) {
		return AlreadyMarked, nil
	}

	entry := NewEntry(name, now)
	if err := l.store.Append(ctx, entry); err != nil {
		return 0, &IOError{Op: "append", Err: err}
	}

	l.mu.Lock()
	l.marked[key{entry.Name, entry.Date}] = struct{}{}
	l.rows = append(l.rows, entry)
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"name": entry.Name,
		"date": entry.Date,
		"time": entry.Time,
	}).Info("Attendance recorded")
	return Recorded, nil
}

// Entries returns the entries dated date in append order.
// An empty date returns every entry.
func (l *Ledger) Entries(date string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.rows {
		if date == "" || e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
