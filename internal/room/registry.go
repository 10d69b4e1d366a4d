package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"collabtext/internal/metrics"
	"collabtext/internal/reportstore"
	"collabtext/internal/textop"
)

// joinAttempts bounds how often Join retries against a room that was evicted
// between lookup and join.
const joinAttempts = 3

// Registry maps document ids to their live rooms. Its lock only guards the
// map; it is never held across store I/O or while waiting on a room.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	// saves still writing, by document; a room is not seeded while one runs
	saving map[string]*inflight

	seeds       singleflight.Group
	store       reportstore.Store
	events      Events
	saveTimeout time.Duration
	log         *slog.Logger
}

// Options configures a Registry.
type Options struct {
	Store       reportstore.Store
	Events      Events // optional
	SaveTimeout time.Duration
	Logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		rooms:       make(map[string]*Room),
		saving:      make(map[string]*inflight),
		store:       opts.Store,
		events:      opts.Events,
		saveTimeout: opts.SaveTimeout,
		log:         opts.Logger,
	}
}

func (g *Registry) lookup(documentID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[documentID]
}

// evict is called by a room goroutine when its last participant left.
func (g *Registry) evict(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[r.id] == r {
		delete(g.rooms, r.id)
		metrics.RoomsActive.Dec()
	}
}

type inflight struct {
	n    int
	done chan struct{}
}

// beginSave marks a save of documentID as running until the returned func is
// called.
func (g *Registry) beginSave(documentID string) func() {
	g.mu.Lock()
	f := g.saving[documentID]
	if f == nil {
		f = &inflight{done: make(chan struct{})}
		g.saving[documentID] = f
	}
	f.n++
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if f.n--; f.n == 0 {
			close(f.done)
			delete(g.saving, documentID)
		}
	}
}

// awaitSaves blocks until no save of documentID is writing to the store.
func (g *Registry) awaitSaves(ctx context.Context, documentID string) error {
	for {
		g.mu.Lock()
		f := g.saving[documentID]
		g.mu.Unlock()
		if f == nil {
			return nil
		}
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// acquire returns the live room for documentID, seeding a new one from the
// store when there is none. Concurrent seeds of one document share a fetch,
// and a seed waits for saves left running by an evicted room.
func (g *Registry) acquire(ctx context.Context, documentID string) (*Room, error) {
	if r := g.lookup(documentID); r != nil {
		return r, nil
	}
	v, err, _ := g.seeds.Do(documentID, func() (any, error) {
		if r := g.lookup(documentID); r != nil {
			return r, nil
		}
		if err := g.awaitSaves(ctx, documentID); err != nil {
			return nil, fmt.Errorf("seed %s: %w", documentID, err)
		}
		content, err := g.store.Fetch(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", documentID, err)
		}
		r := newRoom(documentID, content, g)
		g.mu.Lock()
		g.rooms[documentID] = r
		g.mu.Unlock()
		metrics.RoomsActive.Inc()
		metrics.RoomsCreatedTotal.Inc()
		r.log.Info("room created", "length", len([]rune(content)))
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Join attaches p to the document's room, creating it from the report store
// when absent. The initialized frame is delivered to sink before any later
// broadcast. Joining again with the same participant id returns a fresh
// snapshot without announcing the participant twice.
func (g *Registry) Join(ctx context.Context, documentID string, p Participant, sink Sink) (Snapshot, error) {
	if documentID == "" {
		return Snapshot{}, reportstore.ErrEmptyID
	}
	for i := 0; i < joinAttempts; i++ {
		r, err := g.acquire(ctx, documentID)
		if err != nil {
			return Snapshot{}, err
		}
		snap, err := r.join(p, sink)
		if errors.Is(err, ErrStaleSession) {
			continue
		}
		return snap, err
	}
	return Snapshot{}, fmt.Errorf("join %s: %w", documentID, ErrStaleSession)
}

// Apply applies op for participantID and broadcasts it to the other
// participants. On ErrInvalidOperation the returned content and version are
// the last known-good server state.
func (g *Registry) Apply(ctx context.Context, documentID, participantID string, op textop.Operation) (string, uint64, error) {
	r := g.lookup(documentID)
	if r == nil {
		return "", 0, fmt.Errorf("no room for %s: %w", documentID, ErrStaleSession)
	}
	return r.apply(participantID, op)
}

// Cursor fans out a caret position. Delivery is best-effort; false means the
// update was dropped. True only means it was queued on a live room.
func (g *Registry) Cursor(documentID, participantID string, position int) bool {
	r := g.lookup(documentID)
	if r == nil {
		return false
	}
	return r.moveCursor(participantID, position)
}

// Leave removes participantID and returns how many participants remain. The
// room is evicted when none do.
func (g *Registry) Leave(ctx context.Context, documentID, participantID string) (int, error) {
	r := g.lookup(documentID)
	if r == nil {
		return 0, nil
	}
	n, err := r.leave(participantID)
	if errors.Is(err, ErrStaleSession) {
		return 0, nil
	}
	return n, err
}

// Save persists the document's current content on request of participantID
// and acknowledges it to every participant. Failures are returned only to
// the caller.
func (g *Registry) Save(ctx context.Context, documentID, participantID string) (uint64, error) {
	defer g.beginSave(documentID)()
	r := g.lookup(documentID)
	if r == nil {
		return 0, fmt.Errorf("no room for %s: %w", documentID, ErrStaleSession)
	}
	return r.save(ctx, participantID)
}

// Snapshot returns the live state of a document, if it has a room.
func (g *Registry) Snapshot(documentID string) (Snapshot, bool) {
	r := g.lookup(documentID)
	if r == nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := r.call(func() { snap = r.snapshot() }); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
