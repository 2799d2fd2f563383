package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/jobsync/internal/jobs"
	"github.com/MimeLyc/jobsync/pkg/log"
	_ "modernc.org/sqlite"
)

const defaultRecentLimit = 100

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteJournal records Store phase events. It only keeps operation history;
// the job cache itself is never persisted.
type SQLiteJournal struct {
	db *sql.DB
}

var _ jobs.Listener = (*SQLiteJournal)(nil)

func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	journal := &SQLiteJournal{db: db}
	if err := journal.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (s *SQLiteJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteJournal) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// HandleEvent appends e to the journal. Write failures are logged, never returned,
// so a broken journal cannot fail a Store operation.
func (s *SQLiteJournal) HandleEvent(e jobs.Event) {
	if err := s.Append(context.Background(), e); err != nil {
		log.Error("Failed to journal %s %s event for job %q: %v", e.Op, e.Phase, e.JobID, err)
	}
}

func (s *SQLiteJournal) Append(ctx context.Context, e jobs.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO operation_events (id, op, job_id, phase, error, duration_ms, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID,
		string(e.Op),
		e.JobID,
		string(e.Phase),
		e.Error,
		e.Duration.Milliseconds(),
		e.Time.UTC(),
	)
	return err
}

// Recent returns the newest events first.
func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]jobs.Event, error) {
	return s.query(ctx,
		`SELECT id, op, job_id, phase, error, duration_ms, occurred_at
		 FROM operation_events
		 ORDER BY occurred_at DESC, rowid DESC
		 LIMIT ?`,
		normalizeLimit(limit),
	)
}

// ForJob returns the newest events for one job first.
func (s *SQLiteJournal) ForJob(ctx context.Context, jobID string, limit int) ([]jobs.Event, error) {
	return s.query(ctx,
		`SELECT id, op, job_id, phase, error, duration_ms, occurred_at
		 FROM operation_events
		 WHERE job_id = ?
		 ORDER BY occurred_at DESC, rowid DESC
		 LIMIT ?`,
		jobID,
		normalizeLimit(limit),
	)
}

// Prune deletes events older than cutoff and reports how many were removed.
func (s *SQLiteJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM operation_events WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteJournal) query(ctx context.Context, query string, args ...any) ([]jobs.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.Event, 0)
	for rows.Next() {
		var (
			item       jobs.Event
			op, phase  string
			durationMS int64
		)
		if err := rows.Scan(&item.ID, &op, &item.JobID, &phase, &item.Error, &durationMS, &item.Time); err != nil {
			return nil, err
		}
		item.Op = jobs.Op(op)
		item.Phase = jobs.Phase(phase)
		item.Duration = time.Duration(durationMS) * time.Millisecond
		item.Time = item.Time.UTC()
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return limit
}
