package attendance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

type mockStore struct {
	LoadFunc   func(ctx context.Context) ([]Entry, error)
	AppendFunc func(ctx context.Context, e Entry) error
	appended   []Entry
}

func (m *mockStore) Load(ctx context.Context) ([]Entry, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil, nil
}

func (m *mockStore) Append(ctx context.Context, e Entry) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(ctx, e); err != nil {
			return err
		}
	}
	m.appended = append(m.appended, e)
	return nil
}

func (m *mockStore) Close() error { return nil }

func testLog() *logging.Logger {
	return logging.Discard()
}

func openLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), store, testLog().Component("attendance"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return l
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 5, 7, 0, time.Local)
	e := NewEntry("ALICE", now)
	if e.Date != "2024-03-01" || e.Time != "09:05:07" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestLedger_MarkIsIdempotentPerDay(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	l := openLedger(t, store)

	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

	for i := 0; i < 3; i++ {
		out, err := l.Mark(ctx, "ALICE", day.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
		want := AlreadyMarked
		if i == 0 {
			want = Recorded
		}
		if out != want {
			t.Errorf("Mark #%d = %v, want %v", i, out, want)
		}
	}

	if len(store.appended) != 1 {
		t.Errorf("expected 1 appended row, got %d", len(store.appended))
	}

	// Next day records again
	out, err := l.Mark(ctx, "ALICE", day.Add(24*time.Hour))
	if err != nil || out != Recorded {
		t.Errorf("next day Mark = %v, %v", out, err)
	}
	if !l.HasMarkedToday("ALICE", day) {
		t.Error("expected ALICE marked on day one")
	}
	if l.HasMarkedToday("BOB", day) {
		t.Error("BOB was never marked")
	}
}

func TestLedger_OpenIndexesExistingEntries(t *testing.T) {
	store := &mockStore{
		LoadFunc: func(context.Context) ([]Entry, error) {
			return []Entry{{Name: "BOB", Date: "2024-03-01", Time: "08:00:00"}}, nil
		},
	}
	l := openLedger(t, store)

	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	if !l.HasMarkedToday("BOB", day) {
		t.Error("expected BOB from the existing store to be marked")
	}

	out, err := l.Mark(context.Background(), "BOB", day)
	if err != nil || out != AlreadyMarked {
		t.Errorf("Mark = %v, %v; want AlreadyMarked", out, err)
	}
	if len(store.appended) != 0 {
		t.Error("no row should have been appended")
	}
}

func TestLedger_OpenFailure(t *testing.T) {
	loadErr := errors.New("permission denied")
	store := &mockStore{
		LoadFunc: func(context.Context) ([]Entry, error) { return nil, loadErr },
	}

	_, err := Open(context.Background(), store, testLog().Component("attendance"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %v", err)
	}
	if ioErr.Op != "load" || !errors.Is(err, loadErr) || !errors.Is(err, ErrStore) {
		t.Errorf("unexpected error chain: %v", err)
	}
}

func TestLedger_FailedAppendLeavesUnmarked(t *testing.T) {
	ctx := context.Background()
	fail := true
	store := &mockStore{
		AppendFunc: func(context.Context, Entry) error {
			if fail {
				return errors.New("disk full")
			}
			return nil
		},
	}
	l := openLedger(t, store)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

	if _, err := l.Mark(ctx, "ALICE", now); !errors.Is(err, ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if l.HasMarkedToday("ALICE", now) {
		t.Fatal("failed append must not mark the identity")
	}

	fail = false
	out, err := l.Mark(ctx, "ALICE", now)
	if err != nil || out != Recorded {
		t.Errorf("retry Mark = %v, %v; want Recorded", out, err)
	}
}

func TestLedger_Entries(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, NewMemoryStore(Entry{Name: "ZED", Date: "2024-02-29", Time: "10:00:00"}))

	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	_, _ = l.Mark(ctx, "ALICE", day)
	_, _ = l.Mark(ctx, "BOB", day.Add(time.Minute))

	got := l.Entries("2024-03-01")
	if len(got) != 2 || got[0].Name != "ALICE" || got[1].Name != "BOB" {
		t.Errorf("unexpected entries %+v", got)
	}
	if all := l.Entries(""); len(all) != 3 {
		t.Errorf("expected 3 entries in total, got %d", len(all))
	}
}

func TestCSVStore_CreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "attendance.csv")

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatalf("NewCSVStore failed: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %s", s.Path())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Name,Date,Time\n" {
		t.Errorf("unexpected file content %q", data)
	}

	// Reopening must not duplicate the header
	if _, err := NewCSVStore(path); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if strings.Count(string(data), "Name,Date,Time") != 1 {
		t.Errorf("header written twice: %q", data)
	}
}

func TestCSVStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attendance.csv")

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{Name: "ALICE", Date: "2024-03-01", Time: "09:00:00"},
		{Name: "MARY,JANE", Date: "2024-03-01", Time: "09:01:00"},
	}
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestCSVStore_HeaderlessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.csv")
	if err := os.WriteFile(path, []byte("BOB,2024-03-01,08:00:00\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "BOB" {
		t.Errorf("expected BOB row, got %+v", got)
	}
}

func TestCSVStore_ShortRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.csv")
	if err := os.WriteFile(path, []byte("Name,Date,Time\nBOB\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("expected error for short row")
	}
}

func TestCSVStore_LedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attendance.csv")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

	s, _ := NewCSVStore(path)
	l := openLedger(t, s)
	if _, err := l.Mark(ctx, "ALICE", now); err != nil {
		t.Fatal(err)
	}

	s2, _ := NewCSVStore(path)
	l2 := openLedger(t, s2)
	out, err := l2.Mark(ctx, "ALICE", now.Add(time.Hour))
	if err != nil || out != AlreadyMarked {
		t.Errorf("Mark after restart = %v, %v; want AlreadyMarked", out, err)
	}
}

func TestCSVStore_AppendAfterUnterminatedRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attendance.csv")
	if err := os.WriteFile(path, []byte("Name,Date,Time\nALICE,2024-05-01,09:00:00"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatal(err)
	}
	bob := Entry{Name: "BOB", Date: "2024-05-01", Time: "09:05:00"}
	if err := s.Append(ctx, bob); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "Name,Date,Time\nALICE,2024-05-01,09:00:00\nBOB,2024-05-01,09:05:00\n"
	if string(raw) != want {
		t.Errorf("file = %q, want %q", raw, want)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Time != "09:00:00" || got[1] != bob {
		t.Fatalf("Load() = %+v, want ALICE and BOB rows", got)
	}

	l := openLedger(t, s)
	out, err := l.Mark(ctx, "BOB", time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local))
	if err != nil || out != AlreadyMarked {
		t.Errorf("Mark(BOB) = %v, %v; want AlreadyMarked", out, err)
	}
}

func TestCSVStore_AppendAfterLeadingNewlineRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "attendance.csv")
	if err := os.WriteFile(path, []byte("Name,Date,Time\n\nALICE,2024-05-01,09:00:00\nCAROL,2024-05-01,09:01:00"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewCSVStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, Entry{Name: "BOB", Date: "2024-05-01", Time: "09:05:00"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "ALICE,CAROL,BOB" {
		t.Errorf("names = %v, want ALICE,CAROL,BOB", names)
	}
}
