package reportstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var reportsBucket = []byte("reports")

// Bolt keeps report fields in a single bbolt file. It is the default store
// for a single-node deployment.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Fetch(ctx context.Context, documentID string) (string, error) {
	if err := checkID(documentID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var content string
	err := b.db.View(func(tx *bolt.Tx) error {
		// Get returns memory owned by the transaction; string() copies it.
		content = string(tx.Bucket(reportsBucket).Get([]byte(documentID)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", documentID, err)
	}
	return content, nil
}

func (b *Bolt) Persist(ctx context.Context, documentID, content string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(reportsBucket).Put([]byte(documentID), []byte(content))
	})
	if err != nil {
		return fmt.Errorf("persist %s: %w", documentID, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

var _ Store = (*Bolt)(nil)
