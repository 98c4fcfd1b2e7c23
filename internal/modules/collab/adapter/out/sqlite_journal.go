package out

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"livedoc/internal/modules/collab/domain"
	collabout "livedoc/internal/modules/collab/port/out"

	_ "modernc.org/sqlite"
)

const defaultTail = 50

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (collabout.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	journal := &SQLiteJournal{db: db}
	if err := journal.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (s *SQLiteJournal) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS journal (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  document_id TEXT,
  payload TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_journal_document ON journal(document_id)`); err != nil {
		return fmt.Errorf("create journal index: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) Record(ctx context.Context, entry domain.JournalEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	const stmt = `INSERT INTO journal (kind, document_id, payload, recorded_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, entry.Kind, entry.DocumentID, payload, entry.At.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record %s: %w", entry.Kind, err)
	}
	return nil
}

// Tail returns the newest limit entries, oldest first.
func (s *SQLiteJournal) Tail(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultTail
	}
	const query = `
SELECT id, kind, COALESCE(document_id, ''), payload, recorded_at FROM (
  SELECT * FROM journal ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			entry   domain.JournalEntry
			payload string
			at      string
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.DocumentID, &payload, &at); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		entry.Payload = []byte(payload)
		entry.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse journal time %q: %w", at, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
