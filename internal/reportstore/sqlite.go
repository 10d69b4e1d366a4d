package reportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS report_fields (
    document_id  TEXT PRIMARY KEY,
    content      TEXT NOT NULL,
    updated_ns   INTEGER NOT NULL
);
`

// SQLite keeps report fields in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Fetch(ctx context.Context, documentID string) (string, error) {
	if err := checkID(documentID); err != nil {
		return "", err
	}
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM report_fields WHERE document_id = ?`, documentID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", documentID, err)
	}
	return content, nil
}

func (s *SQLite) Persist(ctx context.Context, documentID, content string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_fields (document_id, content, updated_ns) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET content = excluded.content, updated_ns = excluded.updated_ns`,
		documentID, content, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("persist %s: %w", documentID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
