package room

import (
	"context"
	"fmt"
	"time"

	"collabtext/internal/metrics"
	"collabtext/internal/protocol"
)

// save persists the room's content on behalf of participantID.
//
// Saves for one document run one at a time: a second caller waits for the
// first persist call to finish and then snapshots the content as it is at
// that point. The room goroutine is only used to copy the snapshot and to
// broadcast the result, so edits keep flowing while the store is written.
func (r *Room) save(ctx context.Context, participantID string) (uint64, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	content, version, err := r.contentAt(participantID)
	if err != nil {
		metrics.SavesTotal.WithLabelValues("stale").Inc()
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.saveTimeout)
	defer cancel()

	start := time.Now()
	err = r.store.Persist(ctx, r.id, content)
	metrics.SaveDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SavesTotal.WithLabelValues("failed").Inc()
		r.log.Warn("save failed", "participant", participantID, "version", version, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	metrics.SavesTotal.WithLabelValues("ok").Inc()
	r.log.Info("report saved", "participant", participantID, "version", version, "took", time.Since(start))

	// The room may have emptied while persisting; the save still counts.
	_ = r.call(func() {
		r.broadcast(protocol.MustNew(protocol.TypeSaved, r.id, protocol.Saved{
			Version: version,
			SavedBy: participantID,
		}), "")
		if r.events != nil {
			r.events.Saved(r.id, version, participantID)
		}
	})
	return version, nil
}
