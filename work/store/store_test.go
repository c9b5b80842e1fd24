package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRecord(key string, date time.Time) *VideoRecord {
	return &VideoRecord{
		IndexKey:    key,
		VodID:       "vod-" + key,
		Title:       "title " + key,
		Date:        date,
		LastUpdated: date,
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "videos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.Current().Len(); got != 0 {
		t.Errorf("expected empty store, got %d records", got)
	}
}

func TestInsertAndListOrder(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "videos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dur := 3600
	older := testRecord("a", base.Add(-time.Hour))
	newer := testRecord("b", base)
	newer.DurationSeconds = &dur
	sameDate := testRecord("c", base.Add(-time.Hour))

	if err := s.Insert([]*VideoRecord{older, newer, sameDate}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	list := s.Current().List()
	if len(list) != 3 {
		t.Fatalf("got %d records, want 3", len(list))
	}

	// date descending, index key ascending on ties
	wantOrder := []string{"b", "a", "c"}
	for i, want := range wantOrder {
		if list[i].IndexKey != want {
			t.Errorf("position %d: got %s, want %s", i, list[i].IndexKey, want)
		}
	}

	rec, ok := s.Current().Get("b")
	if !ok {
		t.Fatal("record b missing")
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 3600 {
		t.Errorf("duration not persisted: %v", rec.DurationSeconds)
	}
	if other, _ := s.Current().Get("a"); other.DurationSeconds != nil {
		t.Errorf("absent duration must stay absent, got %v", *other.DurationSeconds)
	}
}

func TestInsertIgnoresKnownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := testRecord("a", date)
	first.Title = "original"

	if err := s.Insert([]*VideoRecord{first}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	changed := testRecord("a", date)
	changed.Title = "changed"
	if err := s.Insert([]*VideoRecord{changed}); err != nil {
		t.Fatalf("second Insert: %v", err)
	}

	rec, _ := s.Current().Get("a")
	if rec.Title != "original" {
		t.Errorf("record mutated after discovery: %q", rec.Title)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Insert([]*VideoRecord{testRecord("a", date)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Current().Len(); got != 1 {
		t.Errorf("got %d records after reopen, want 1", got)
	}
}

func TestSnapshotStableAcrossInsert(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "videos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Insert([]*VideoRecord{testRecord("a", date)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	held := s.Current()
	if err := s.Insert([]*VideoRecord{testRecord("b", date.Add(time.Hour))}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// a reader holding the old snapshot still sees its complete view
	if held.Len() != 1 {
		t.Errorf("held snapshot changed: %d records", held.Len())
	}
	if s.Current().Len() != 2 {
		t.Errorf("new snapshot incomplete: %d records", s.Current().Len())
	}
}

func TestOpenCorruptFileMovedAsideAndRetained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.db")
	if err := os.WriteFile(path, []byte("definitely not a database"), 0644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open over corrupt file: %v", err)
	}
	defer s.Close()

	if got := s.Current().Len(); got != 0 {
		t.Errorf("expected empty store after corrupt open, got %d records", got)
	}

	// the unreadable data must survive for inspection, not be destroyed
	moved, err := os.ReadFile(path + ".corrupt")
	if err != nil {
		t.Fatalf("corrupt data not moved aside: %v", err)
	}
	if string(moved) != "definitely not a database" {
		t.Errorf("moved-aside contents changed: %q", moved)
	}
}
