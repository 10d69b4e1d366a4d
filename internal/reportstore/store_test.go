package reportstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/config"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Fetch(ctx, "r1:summary")
	require.NoError(t, err)
	assert.Equal(t, "", got, "unknown document reads as empty")

	require.NoError(t, s.Persist(ctx, "r1:summary", "Hi there"))
	got, err = s.Fetch(ctx, "r1:summary")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)

	require.NoError(t, s.Persist(ctx, "r1:summary", "Hi"))
	got, err = s.Fetch(ctx, "r1:summary")
	require.NoError(t, err)
	assert.Equal(t, "Hi", got, "persist replaces")

	got, err = s.Fetch(ctx, "r1:budget")
	require.NoError(t, err)
	assert.Equal(t, "", got, "documents are isolated")

	require.NoError(t, s.Persist(ctx, "r2:notes", "日本語 ok"))
	got, err = s.Fetch(ctx, "r2:notes")
	require.NoError(t, err)
	assert.Equal(t, "日本語 ok", got)

	_, err = s.Fetch(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.ErrorIs(t, s.Persist(ctx, "", "x"), ErrEmptyID)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryFailPersist(t *testing.T) {
	m := NewMemory()
	m.Seed("d", "before")
	m.FailPersist = errors.New("disk full")

	err := m.Persist(context.Background(), "d", "after")
	require.Error(t, err)
	got, _ := m.Fetch(context.Background(), "d")
	assert.Equal(t, "before", got)
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemory().Persist(ctx, "d", "x"), context.Canceled)
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)
	exerciseStore(t, b)
	require.NoError(t, b.Close())

	// content survives reopening
	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Fetch(context.Background(), "r1:summary")
	require.NoError(t, err)
	assert.Equal(t, "Hi", got)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r, err := OpenRedis(context.Background(), &redis.Options{Addr: addr}, "collabtext-test:"+t.Name()+":")
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()
	require.NoError(t, r.rdb.Del(ctx, r.key("r1:summary"), r.key("r1:budget"), r.key("r2:notes")).Err())
	exerciseStore(t, r)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	p, err := OpenPostgres(context.Background(), url, 2)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.pool.Exec(context.Background(), `DELETE FROM report_fields WHERE document_id IN ('r1:summary','r1:budget','r2:notes')`)
	require.NoError(t, err)
	exerciseStore(t, p)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()

	cfg.Store.Type = "memory"
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Store.Type = "bolt"
	cfg.Store.Path = filepath.Join(t.TempDir(), "r.db")
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Bolt{}, s)
	require.NoError(t, s.Close())

	cfg.Store.Type = "s3"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
