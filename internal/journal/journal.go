// Package journal keeps a history of stream probes in SQLite so that a
// station's verdict can be traced back across runs.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
)

const defaultTimeout = 5 * time.Second

// Entry is one recorded probe.
type Entry struct {
	ID         int64
	RunID      string
	File       string
	URL        string
	Verdict    string
	StatusCode int
	Transport  string
	CheckedAt  time.Time
}

// Journal stores probe entries.
type Journal struct {
	db     *sqlx.DB
	path   string
	logger *log.Logger
}

// NewRunID returns an identifier grouping the entries of one validation run.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates the journal database at path.
func Open(ctx context.Context, path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Default()
	}
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single writer avoids "database is locked" between the watcher and
	// the HTTP handlers.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Printf("failed to close journal after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logger}
	if err := j.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Printf("failed to close journal after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		file TEXT NOT NULL,
		url TEXT NOT NULL,
		verdict TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		transport TEXT NOT NULL DEFAULT '',
		checked_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_probes_file ON probes(file, checked_at);
	`
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// row mirrors the probes table.
type row struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	File       string `db:"file"`
	URL        string `db:"url"`
	Verdict    string `db:"verdict"`
	StatusCode int    `db:"status_code"`
	Transport  string `db:"transport"`
	CheckedAt  int64  `db:"checked_at"`
}

// Record appends an entry. A zero CheckedAt is replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CheckedAt.IsZero() {
		e.CheckedAt = time.Now()
	}
	r := row{
		RunID:      e.RunID,
		File:       e.File,
		URL:        e.URL,
		Verdict:    e.Verdict,
		StatusCode: e.StatusCode,
		Transport:  e.Transport,
		CheckedAt:  e.CheckedAt.UTC().UnixNano(),
	}
	_, err := j.db.NamedExecContext(ctx,
		`INSERT INTO probes (run_id, file, url, verdict, status_code, transport, checked_at)
		 VALUES (:run_id, :file, :url, :verdict, :status_code, :transport, :checked_at)`, r)
	if err != nil {
		return fmt.Errorf("record probe for %s: %w", e.File, err)
	}
	return nil
}

// History returns the newest entries first. An empty file returns entries for
// all files. limit <= 0 means no limit.
func (j *Journal) History(ctx context.Context, file string, limit int) ([]Entry, error) {
	query := `SELECT id, run_id, file, url, verdict, status_code, transport, checked_at FROM probes`
	var args []interface{}
	if file != "" {
		query += ` WHERE file = ?`
		args = append(args, file)
	}
	query += ` ORDER BY checked_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []row
	if err := j.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:         r.ID,
			RunID:      r.RunID,
			File:       r.File,
			URL:        r.URL,
			Verdict:    r.Verdict,
			StatusCode: r.StatusCode,
			Transport:  r.Transport,
			CheckedAt:  time.Unix(0, r.CheckedAt).UTC(),
		})
	}
	return entries, nil
}
