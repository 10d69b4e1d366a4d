// Package relay publishes room events to Redis so processes other than the
// sync server can follow a document. Each document has its own channel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/metrics"
	"collabtext/internal/textop"
)

// Event kinds.
const (
	KindOperation = "operation"
	KindSaved     = "saved"
)

// Event is the JSON payload published for every applied operation and save.
type Event struct {
	Kind       string            `json:"kind"`
	DocumentID string            `json:"documentId"`
	Version    uint64            `json:"version"`
	Operation  *textop.Operation `json:"operation,omitempty"`
	SavedBy    string            `json:"savedBy,omitempty"`
	At         time.Time         `json:"at"`
}

const queueSize = 1024

// Relay implements room.Events. Room goroutines only enqueue; Run publishes.
// Events are dropped when the queue is full.
type Relay struct {
	rdb    redis.Cmdable
	prefix string
	log    *slog.Logger
	queue  chan Event
}

// New creates a relay publishing on prefix+documentID.
func New(rdb redis.Cmdable, prefix string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		rdb:    rdb,
		prefix: prefix,
		log:    log,
		queue:  make(chan Event, queueSize),
	}
}

// Channel returns the channel name for a document.
func (r *Relay) Channel(documentID string) string {
	return r.prefix + documentID
}

func (r *Relay) OperationApplied(documentID string, op textop.Operation, version uint64) {
	r.enqueue(Event{Kind: KindOperation, DocumentID: documentID, Version: version, Operation: &op, At: time.Now()})
}

func (r *Relay) Saved(documentID string, version uint64, savedBy string) {
	r.enqueue(Event{Kind: KindSaved, DocumentID: documentID, Version: version, SavedBy: savedBy, At: time.Now()})
}

func (r *Relay) enqueue(ev Event) {
	select {
	case r.queue <- ev:
	default:
		metrics.RelayEventsTotal.WithLabelValues("dropped").Inc()
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			if err := r.publish(ctx, ev); err != nil {
				metrics.RelayEventsTotal.WithLabelValues("failed").Inc()
				r.log.Warn("relay publish failed", "document", ev.DocumentID, "error", err)
				continue
			}
			metrics.RelayEventsTotal.WithLabelValues("published").Inc()
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.rdb.Publish(ctx, r.Channel(ev.DocumentID), b).Err()
}

// Subscribe follows one document's events until ctx is cancelled. Malformed
// payloads are skipped.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string) (<-chan Event, error) {
	sub := rdb.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
