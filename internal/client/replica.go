// Package client is the editor side of the sync protocol: a local replica of
// one document field that turns local edits into operations and folds the
// server's frames back into its buffer.
package client

import (
	"errors"
	"fmt"
	"sort"

	"collabtext/internal/protocol"
	"collabtext/internal/textop"
)

// State is the replica's position in the sync protocol.
type State int

const (
	Disconnected State = iota
	Joining
	Synced
	Applying  // local operations sent, not yet acknowledged
	Receiving // applying a remote operation
	Left
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Synced:
		return "synced"
	case Applying:
		return "applying"
	case Receiving:
		return "receiving"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotSynced is returned for edits before the snapshot arrived or after leaving.
	ErrNotSynced = errors.New("replica not synced")

	// ErrDiverged means a remote operation no longer fits the local buffer.
	// The caller should send Join again to resync.
	ErrDiverged = errors.New("replica diverged")

	// ErrRejected wraps an error frame from the server.
	ErrRejected = errors.New("rejected by server")

	// ErrUnrepresentable is returned by Edit for a change no single operation
	// describes, such as replacing text with text of the same length. The
	// local buffer keeps its previous value.
	ErrUnrepresentable = errors.New("edit is not a single insert or delete")
)

// Replica is the client's copy of one document. It is not safe for
// concurrent use; the agent drives it from one goroutine.
type Replica struct {
	documentID string
	self       string
	state      State
	content    string
	version    uint64
	pending    int
	roster     map[string]protocol.Collaborator
}

// NewReplica creates a disconnected replica for documentID.
func NewReplica(documentID string) *Replica {
	return &Replica{
		documentID: documentID,
		roster:     make(map[string]protocol.Collaborator),
	}
}

func (r *Replica) DocumentID() string { return r.documentID }
func (r *Replica) Self() string       { return r.self }
func (r *Replica) State() State       { return r.state }
func (r *Replica) Content() string    { return r.content }
func (r *Replica) Version() uint64    { return r.version }
func (r *Replica) Pending() int       { return r.pending }

// Roster returns the other participants ordered by id.
func (r *Replica) Roster() []protocol.Collaborator {
	out := make([]protocol.Collaborator, 0, len(r.roster))
	for id, c := range r.roster {
		if id != r.self {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Join returns the join frame. It is also the resync path: the snapshot that
// answers it replaces the local buffer wholesale.
func (r *Replica) Join() *protocol.Message {
	r.state = Joining
	return protocol.MustNew(protocol.TypeJoin, r.documentID, nil)
}

// Leave returns the leave frame.
func (r *Replica) Leave() *protocol.Message {
	r.state = Left
	r.pending = 0
	return protocol.MustNew(protocol.TypeLeave, r.documentID, nil)
}

// Save returns the save frame.
func (r *Replica) Save() *protocol.Message {
	return protocol.MustNew(protocol.TypeSave, r.documentID, nil)
}

// Cursor returns a cursor frame.
func (r *Replica) Cursor(position int) *protocol.Message {
	return protocol.MustNew(protocol.TypeCursor, r.documentID, protocol.Cursor{Position: position})
}

// Edit records the user's new field value. The local buffer takes the value
// immediately; the returned frame carries the derived operation. It returns
// nil when the value is unchanged.
func (r *Replica) Edit(value string) (*protocol.Message, error) {
	if r.state == Disconnected || r.state == Joining || r.state == Left {
		return nil, ErrNotSynced
	}
	if value == r.content {
		return nil, nil
	}
	op, ok := textop.Diff(r.content, value)
	if !ok {
		return nil, ErrUnrepresentable
	}
	r.content = value
	op.Origin = r.self
	r.pending++
	r.state = Applying
	return protocol.MustNew(protocol.TypeOperation, r.documentID, protocol.Operation{Operation: op}), nil
}

// Handle folds one server frame into the replica.
func (r *Replica) Handle(m *protocol.Message) error {
	if m.DocumentID != r.documentID {
		return fmt.Errorf("frame for %q delivered to replica of %q", m.DocumentID, r.documentID)
	}
	switch m.Type {
	case protocol.TypeInitialized:
		var in protocol.Initialized
		if err := m.ParseData(&in); err != nil {
			return err
		}
		r.self = in.ParticipantID
		r.content = in.Content
		r.version = in.Version
		r.pending = 0
		r.roster = make(map[string]protocol.Collaborator, len(in.Participants))
		for _, c := range in.Participants {
			r.roster[c.ID] = c
		}
		r.state = Synced

	case protocol.TypeAck:
		var ack protocol.Ack
		if err := m.ParseData(&ack); err != nil {
			return err
		}
		r.adopt(ack.Version)
		if r.pending > 0 {
			r.pending--
		}
		if r.pending == 0 {
			// Nothing local is in flight, so the server's buffer at this
			// version is exactly what this replica should show.
			r.content = ack.Content
			r.state = Synced
		}

	case protocol.TypeOperationApplied:
		var oa protocol.OperationApplied
		if err := m.ParseData(&oa); err != nil {
			return err
		}
		if oa.OriginatorID == r.self {
			return nil
		}
		prev := r.state
		r.state = Receiving
		next, err := oa.Operation.Apply(r.content)
		r.adopt(oa.Version)
		r.state = prev
		if err != nil {
			if r.pending > 0 {
				// the ack for our last pending operation replaces the buffer
				return nil
			}
			return fmt.Errorf("%w: %v", ErrDiverged, err)
		}
		r.content = next

	case protocol.TypeCollaboratorJoined:
		var cj protocol.CollaboratorJoined
		if err := m.ParseData(&cj); err != nil {
			return err
		}
		r.roster[cj.ID] = protocol.Collaborator{ID: cj.ID, DisplayName: cj.DisplayName}

	case protocol.TypeCollaboratorLeft:
		var cl protocol.CollaboratorLeft
		if err := m.ParseData(&cl); err != nil {
			return err
		}
		delete(r.roster, cl.ID)

	case protocol.TypeCursorUpdate:
		var cu protocol.CursorUpdate
		if err := m.ParseData(&cu); err != nil {
			return err
		}
		if c, ok := r.roster[cu.ID]; ok {
			c.CursorPosition = cu.Position
			r.roster[cu.ID] = c
		}

	case protocol.TypeSaved:
		// nothing to fold; the caller clears its saving state

	case protocol.TypeError:
		var e protocol.Error
		if err := m.ParseData(&e); err != nil {
			return err
		}
		switch e.Code {
		case protocol.CodeInvalidOperation:
			// the oldest pending operation was dropped; once nothing else is
			// in flight fall back to the last known-good server state
			if r.pending > 0 {
				r.pending--
			}
			if e.Version != nil {
				r.adopt(*e.Version)
			}
			if r.pending == 0 && e.Content != nil {
				r.content = *e.Content
				r.state = Synced
			}
		case protocol.CodeStaleSession:
			r.state = Disconnected
			r.pending = 0
		}
		return fmt.Errorf("%w: %s: %s", ErrRejected, e.Code, e.Message)

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownType, m.Type)
	}
	return nil
}

func (r *Replica) adopt(v uint64) {
	if v > r.version {
		r.version = v
	}
}
