package room

import (
	"sort"

	"collabtext/internal/metrics"
	"collabtext/internal/protocol"
)

// addMember registers p and tells everyone already present.
func (r *Room) addMember(p Participant, sink Sink) {
	r.broadcast(protocol.MustNew(protocol.TypeCollaboratorJoined, r.id, protocol.CollaboratorJoined{
		ID:          p.ID,
		DisplayName: p.DisplayName,
	}), p.ID)
	r.members[p.ID] = &member{Participant: p, sink: sink}
	metrics.ParticipantsActive.Inc()
	r.log.Info("participant joined", "participant", p.ID, "participants", len(r.members))
}

// removeMember drops the participant and tells the rest. It reports whether
// the participant was present.
func (r *Room) removeMember(participantID string) bool {
	if _, ok := r.members[participantID]; !ok {
		return false
	}
	delete(r.members, participantID)
	metrics.ParticipantsActive.Dec()
	r.broadcast(protocol.MustNew(protocol.TypeCollaboratorLeft, r.id, protocol.CollaboratorLeft{
		ID: participantID,
	}), "")
	r.log.Info("participant left", "participant", participantID, "participants", len(r.members))
	return true
}

// roster lists members ordered by id.
func (r *Room) roster() []protocol.Collaborator {
	out := make([]protocol.Collaborator, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, protocol.Collaborator{
			ID:             m.ID,
			DisplayName:    m.DisplayName,
			CursorPosition: m.cursor,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// moveCursor records a caret position and fans it out. It never waits on the
// room: when the inbox is full the update is dropped.
func (r *Room) moveCursor(participantID string, position int) bool {
	return r.post(func() {
		m, ok := r.members[participantID]
		if !ok {
			return
		}
		if position < 0 {
			position = 0
		}
		m.cursor = position
		r.broadcast(protocol.MustNew(protocol.TypeCursorUpdate, r.id, protocol.CursorUpdate{
			ID:       participantID,
			Position: position,
		}), participantID)
	})
}
