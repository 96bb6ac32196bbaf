package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	line_count INTEGER NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLite persists records in a single table, one row per path.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. Parent directories are
// created as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; commits are already serialized by the store.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Load returns every stored record.
func (s *SQLite) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, content, line_count, revision FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			content string
			count   int
		)
		if err := rows.Scan(&r.Path, &content, &count, &r.Revision); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		r.Lines = decodeLines(content, count)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save upserts records in one transaction.
func (s *SQLite) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (path, content, line_count, revision, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			line_count = excluded.line_count,
			revision = excluded.revision,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Path, strings.Join(r.Lines, "\n"), len(r.Lines), r.Revision, now); err != nil {
			return fmt.Errorf("save %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// decodeLines tells no lines apart from a single empty line.
func decodeLines(content string, count int) []string {
	if count == 0 {
		return nil
	}
	return strings.Split(content, "\n")
}
