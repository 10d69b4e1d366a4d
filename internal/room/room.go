// Package room owns the live state of every document being edited: one
// actor goroutine per document serializes joins, operations, cursor moves,
// leaves and save snapshots, and the Registry maps document ids to actors.
package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"collabtext/internal/metrics"
	"collabtext/internal/protocol"
	"collabtext/internal/reportstore"
	"collabtext/internal/textop"
)

const inboxSize = 64

// Participant is one connected client as the room sees it.
type Participant struct {
	ID          string
	DisplayName string
}

// Sink receives frames addressed to one participant. Deliver is called from
// the room goroutine and must not block.
type Sink interface {
	Deliver(m *protocol.Message)
}

// Events observes room activity. Methods are called from the room goroutine
// and must not block.
type Events interface {
	OperationApplied(documentID string, op textop.Operation, version uint64)
	Saved(documentID string, version uint64, savedBy string)
}

// Snapshot is the authoritative state handed to a joining participant.
type Snapshot struct {
	Content      string
	Version      uint64
	Participants []protocol.Collaborator
}

type member struct {
	Participant
	cursor int
	sink   Sink
}

// Room is the actor for one document. Its fields below the inbox are only
// touched from the run goroutine.
type Room struct {
	id          string
	log         *slog.Logger
	store       reportstore.Store
	events      Events
	saveTimeout time.Duration
	onEmpty     func(*Room)

	inbox  chan func()
	closed chan struct{}

	// serializes saves for this document
	saveMu sync.Mutex

	content string
	version uint64
	members map[string]*member
	evicted bool
}

func newRoom(id, content string, g *Registry) *Room {
	r := &Room{
		id:          id,
		log:         g.log.With("document", id),
		store:       g.store,
		events:      g.events,
		saveTimeout: g.saveTimeout,
		onEmpty:     g.evict,
		inbox:       make(chan func(), inboxSize),
		closed:      make(chan struct{}),
		content:     content,
		members:     make(map[string]*member),
	}
	go r.run()
	return r
}

// ID returns the document id.
func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	defer close(r.closed)
	for fn := range r.inbox {
		fn()
		if r.evicted {
			r.log.Debug("room evicted", "version", r.version)
			return
		}
	}
}

// call runs fn on the room goroutine and waits for it. It fails with
// ErrStaleSession when the room has shut down before fn ran.
func (r *Room) call(fn func()) error {
	done := make(chan struct{})
	select {
	case r.inbox <- func() { fn(); close(done) }:
	case <-r.closed:
		return ErrStaleSession
	}
	select {
	case <-done:
		return nil
	case <-r.closed:
		// fn may have been the call that closed the room
		select {
		case <-done:
			return nil
		default:
			return ErrStaleSession
		}
	}
}

// post queues fn without waiting. It reports false when the inbox is full or
// the room is known to be gone. True means queued, not run: a room evicted
// by an earlier inbox entry drops fn without running it.
func (r *Room) post(fn func()) bool {
	select {
	case <-r.closed:
		return false
	default:
	}
	select {
	case <-r.closed:
		return false
	case r.inbox <- fn:
		return true
	default:
		return false
	}
}

// broadcast delivers m to every member except skip.
func (r *Room) broadcast(m *protocol.Message, skip string) {
	for id, mem := range r.members {
		if id == skip {
			continue
		}
		mem.sink.Deliver(m)
	}
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		Content:      r.content,
		Version:      r.version,
		Participants: r.roster(),
	}
}

func (r *Room) join(p Participant, sink Sink) (Snapshot, error) {
	var snap Snapshot
	err := r.call(func() {
		if existing, ok := r.members[p.ID]; ok {
			// re-join resynchronizes an existing participant
			existing.sink = sink
			existing.DisplayName = p.DisplayName
			snap = r.snapshot()
			sink.Deliver(r.initialized(p.ID, snap))
			return
		}
		r.addMember(p, sink)
		snap = r.snapshot()
		sink.Deliver(r.initialized(p.ID, snap))
	})
	return snap, err
}

func (r *Room) initialized(participantID string, snap Snapshot) *protocol.Message {
	return protocol.MustNew(protocol.TypeInitialized, r.id, protocol.Initialized{
		ParticipantID: participantID,
		Content:       snap.Content,
		Version:       snap.Version,
		Participants:  snap.Participants,
	})
}

// apply is the only path that mutates content. On ErrInvalidOperation the
// returned content and version are the unchanged server state.
func (r *Room) apply(participantID string, op textop.Operation) (string, uint64, error) {
	var (
		content  string
		version  uint64
		applyErr error
	)
	err := r.call(func() {
		if _, ok := r.members[participantID]; !ok {
			applyErr = fmt.Errorf("%s is not in %s: %w", participantID, r.id, ErrStaleSession)
			return
		}
		op.Origin = participantID
		next, err := op.Apply(r.content)
		if err != nil {
			metrics.OperationsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
			r.log.Debug("operation rejected", "participant", participantID, "op", op.String(), "error", err)
			content, version = r.content, r.version
			applyErr = fmt.Errorf("%w: %v", ErrInvalidOperation, err)
			return
		}
		r.content = next
		r.version++
		content, version = r.content, r.version
		metrics.OperationsAppliedTotal.WithLabelValues(string(op.Type)).Inc()

		r.members[participantID].sink.Deliver(protocol.MustNew(protocol.TypeAck, r.id, protocol.Ack{Version: version, Content: content}))
		r.broadcast(protocol.MustNew(protocol.TypeOperationApplied, r.id, protocol.OperationApplied{
			Operation:    op,
			Version:      version,
			OriginatorID: participantID,
		}), participantID)
		if r.events != nil {
			r.events.OperationApplied(r.id, op, version)
		}
	})
	if err != nil {
		return "", 0, err
	}
	return content, version, applyErr
}

func rejectReason(err error) string {
	if errors.Is(err, textop.ErrMalformed) {
		return "malformed"
	}
	return "out_of_range"
}

// leave removes the participant and evicts the room when it was the last
// one. Leaving a room one is not in is a no-op.
func (r *Room) leave(participantID string) (int, error) {
	var remaining int
	err := r.call(func() {
		if r.removeMember(participantID) && len(r.members) == 0 {
			r.evicted = true
			r.onEmpty(r)
		}
		remaining = len(r.members)
	})
	return remaining, err
}

// contentAt returns the state a save should persist, after checking the
// requester is a member.
func (r *Room) contentAt(participantID string) (string, uint64, error) {
	var (
		content string
		version uint64
		member  bool
	)
	if err := r.call(func() {
		_, member = r.members[participantID]
		content, version = r.content, r.version
	}); err != nil {
		return "", 0, err
	}
	if !member {
		return "", 0, fmt.Errorf("%s is not in %s: %w", participantID, r.id, ErrStaleSession)
	}
	return content, version, nil
}
