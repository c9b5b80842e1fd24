// Package store is the durable metadata store: a single SQLite table of
// VideoRecords, held in memory as an immutable snapshot behind an atomic
// pointer. The reconciler is the only writer; request handlers read whatever
// snapshot is current and never observe a partial update.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakedarc/barbarian-ultimate/work/logger"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// VideoRecord identifies one archived stream. All fields are immutable after
// discovery except DurationSeconds, which may move from absent (nil) to a
// fixed value exactly once.
type VideoRecord struct {
	IndexKey        string    `json:"index_key"`
	VodID           string    `json:"vod_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Date            time.Time `json:"date"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Snapshot is an immutable view of the full store. Readers share snapshots
// freely; a reconciliation builds a new one and swaps it in whole.
type Snapshot struct {
	records map[string]*VideoRecord
	ordered []*VideoRecord
}

// Get looks up a record by its index key.
func (sn *Snapshot) Get(indexKey string) (*VideoRecord, bool) {
	rec, ok := sn.records[indexKey]
	return rec, ok
}

// List returns all records ordered by capture date descending, ties broken
// by index key ascending. Callers must not mutate the returned slice.
func (sn *Snapshot) List() []*VideoRecord {
	return sn.ordered
}

// Len returns the number of records in the snapshot.
func (sn *Snapshot) Len() int {
	return len(sn.records)
}

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	index_key        TEXT PRIMARY KEY,
	vod_id           TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	date             TEXT NOT NULL,
	duration_seconds INTEGER,
	last_updated     TEXT NOT NULL
)`

// Store wraps the SQLite handle and the current snapshot.
type Store struct {
	db       *sql.DB
	snapshot atomic.Pointer[Snapshot]
	writeMu  sync.Mutex // single writer; readers go through the snapshot only
}

// Open opens (or creates) the store at path and loads the full table into
// the initial snapshot. A missing file starts an empty store; a corrupt file
// is moved aside and replaced with an empty store rather than failing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s, err := open(path)
	if err == nil {
		return s, nil
	}

	corrupt := path + ".corrupt"
	logger.Error("store at %s unusable (%v); moving data aside to %s and starting empty", path, err, corrupt)
	if renameErr := os.Rename(path, corrupt); renameErr != nil && !os.IsNotExist(renameErr) {
		return nil, fmt.Errorf("failed to move corrupt store aside: %w", renameErr)
	}
	return open(path)
}

func open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.snapshot.Load()
}

// Insert writes newly discovered records and swaps in a rebuilt snapshot.
// Existing index keys are left untouched: records never change after
// discovery, so the insert is a no-op for keys already present.
func (s *Store) Insert(records []*VideoRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}

	for _, rec := range records {
		var duration any
		if rec.DurationSeconds != nil {
			duration = *rec.DurationSeconds
		}
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO videos (index_key, vod_id, title, description, date, duration_seconds, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.IndexKey, rec.VodID, rec.Title, rec.Description,
			rec.Date.UTC().Format(time.RFC3339), duration,
			rec.LastUpdated.UTC().Format(time.RFC3339),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert %s: %w", rec.IndexKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}

	return s.reload()
}

// reload reads the table wholesale, builds a fresh snapshot and swaps it in.
// Rows that fail to scan or parse are skipped with a warning instead of
// poisoning the whole store.
func (s *Store) reload() error {
	rows, err := s.db.Query(
		`SELECT index_key, vod_id, title, description, date, duration_seconds, last_updated
		 FROM videos ORDER BY date DESC, index_key ASC`)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	defer rows.Close()

	snapshot := &Snapshot{records: make(map[string]*VideoRecord)}

	for rows.Next() {
		var rec VideoRecord
		var date, updated string
		var duration sql.NullInt64

		if err := rows.Scan(&rec.IndexKey, &rec.VodID, &rec.Title, &rec.Description, &date, &duration, &updated); err != nil {
			logger.Warn("skipping unreadable store row: %v", err)
			continue
		}

		rec.Date, err = time.Parse(time.RFC3339, date)
		if err != nil {
			logger.Warn("skipping store row %s: bad date %q", rec.IndexKey, date)
			continue
		}
		if rec.LastUpdated, err = time.Parse(time.RFC3339, updated); err != nil {
			rec.LastUpdated = rec.Date
		}
		if duration.Valid {
			d := int(duration.Int64)
			rec.DurationSeconds = &d
		}

		snapshot.records[rec.IndexKey] = &rec
		snapshot.ordered = append(snapshot.ordered, &rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate store rows: %w", err)
	}

	s.snapshot.Store(snapshot)
	return nil
}
