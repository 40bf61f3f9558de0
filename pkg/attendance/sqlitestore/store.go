// Package sqlitestore is an attendance.Store backed by a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
)

// pragmas are applied on every connection.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

const schema = `
CREATE TABLE IF NOT EXISTS attendance (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  name        TEXT NOT NULL,
  date        TEXT NOT NULL,
  time        TEXT NOT NULL,
  recorded_at_ms INTEGER NOT NULL,
  UNIQUE(name, date)
);
CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
`

// Store persists attendance entries in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	return OpenDSN(ctx, fmt.Sprintf("file:%s?%s", path, pragmas))
}

// OpenDSN opens a database from a modernc.org/sqlite DSN.
func OpenDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One writer only; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns every entry in insertion order.
func (s *Store) Load(ctx context.Context) ([]attendance.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, date, time FROM attendance ORDER BY id;
`)
	if err != nil {
		return nil, fmt.Errorf("Load query: %w", err)
	}
	defer rows.Close()

	var entries []attendance.Entry
	for rows.Next() {
		var e attendance.Entry
		if err := rows.Scan(&e.Name, &e.Date, &e.Time); err != nil {
			return nil, fmt.Errorf("Load scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Load rows: %w", err)
	}
	return entries, nil
}

// Append inserts e. A second entry for the same name and date is ignored,
// so the table holds the per-day invariant even without the ledger index.
func (s *Store) Append(ctx context.Context, e attendance.Entry) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO attendance(name, date, time, recorded_at_ms) VALUES (?, ?, ?, ?);
`, e.Name, e.Date, e.Time, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("Append insert: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
