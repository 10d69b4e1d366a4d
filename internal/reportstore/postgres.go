package reportstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS report_fields (
    document_id  TEXT PRIMARY KEY,
    content      TEXT NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps report fields in a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, url string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Fetch(ctx context.Context, documentID string) (string, error) {
	if err := checkID(documentID); err != nil {
		return "", err
	}
	var content string
	err := p.pool.QueryRow(ctx,
		`SELECT content FROM report_fields WHERE document_id = $1`, documentID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", documentID, err)
	}
	return content, nil
}

func (p *Postgres) Persist(ctx context.Context, documentID, content string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO report_fields (document_id, content, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (document_id) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`,
		documentID, content)
	if err != nil {
		return fmt.Errorf("persist %s: %w", documentID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
