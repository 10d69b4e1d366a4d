// Package reportstore is the boundary to durable report storage. The sync
// engine only ever reads a field's text to seed a room and writes it back on
// an explicit save; schema, history and comments belong to the surrounding
// application.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyID is returned for an empty document id.
var ErrEmptyID = errors.New("empty document id")

// Store reads and writes the persisted text of one report field.
type Store interface {
	// Fetch returns the persisted content. A document that was never
	// persisted yields "" and no error.
	Fetch(ctx context.Context, documentID string) (string, error)

	// Persist replaces the persisted content.
	Persist(ctx context.Context, documentID, content string) error

	Close() error
}

func checkID(documentID string) error {
	if documentID == "" {
		return ErrEmptyID
	}
	return nil
}

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]string

	// FailPersist, when set, is returned by every Persist call.
	FailPersist error
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]string)}
}

// Seed sets content without going through Persist.
func (m *Memory) Seed(documentID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = content
}

func (m *Memory) Fetch(ctx context.Context, documentID string) (string, error) {
	if err := checkID(documentID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[documentID], nil
}

func (m *Memory) Persist(ctx context.Context, documentID, content string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPersist != nil {
		return fmt.Errorf("persist %s: %w", documentID, m.FailPersist)
	}
	m.docs[documentID] = content
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
