package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/logging"
	"collabtext/internal/textop"
)

func TestEventShape(t *testing.T) {
	r := New(nil, "collab:", logging.Discard())
	r.OperationApplied("d", textop.Operation{Type: textop.Insert, Position: 0, Text: "Hi", Origin: "a#1"}, 3)
	r.Saved("d", 3, "a#1")

	ev := <-r.queue
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "operation", got["kind"])
	assert.Equal(t, "d", got["documentId"])
	assert.Equal(t, float64(3), got["version"])
	assert.Equal(t, "Hi", got["operation"].(map[string]any)["text"])
	assert.NotContains(t, got, "savedBy")

	ev = <-r.queue
	assert.Equal(t, KindSaved, ev.Kind)
	assert.Equal(t, "a#1", ev.SavedBy)
	assert.Nil(t, ev.Operation)
	assert.Equal(t, "collab:d", r.Channel("d"))
}

func TestFullQueueDrops(t *testing.T) {
	r := New(nil, "collab:", logging.Discard())
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+10; i++ {
			r.Saved("d", uint64(i), "a")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, r.queue, queueSize)
}

func TestPublishSubscribe(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	r := New(rdb, "collabtest:", logging.Discard())
	events, err := Subscribe(ctx, rdb, r.Channel("relay-doc"))
	require.NoError(t, err)
	go r.Run(ctx)

	r.OperationApplied("relay-doc", textop.Operation{Type: textop.Delete, Position: 1, Length: 2}, 7)

	select {
	case ev := <-events:
		assert.Equal(t, KindOperation, ev.Kind)
		assert.Equal(t, uint64(7), ev.Version)
		require.NotNil(t, ev.Operation)
		assert.Equal(t, 2, ev.Operation.Length)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
