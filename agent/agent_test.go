package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/identity"
	"collabtext/internal/logging"
	"collabtext/internal/protocol"
	"collabtext/internal/reportstore"
	"collabtext/internal/room"
	"collabtext/internal/textop"
	"collabtext/internal/transport"
)

// syncBuffer is an io.Writer safe for the agent goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (string, *reportstore.Memory, *room.Registry) {
	t.Helper()
	store := reportstore.NewMemory()
	reg := room.NewRegistry(room.Options{Store: store, SaveTimeout: time.Second, Logger: logging.Discard()})
	srv := transport.NewServer(transport.Options{Registry: reg, Logger: logging.Discard()})
	hs := httptest.NewServer(transport.NewRouter(srv))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		hs.Close()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", store, reg
}

func startAgent(t *testing.T, url, doc string) (chan<- string, *syncBuffer, <-chan error) {
	t.Helper()
	lines := make(chan string)
	out := &syncBuffer{}
	a := newAgent(options{server: url, document: doc, user: "ada", name: "Ada"}, out, logging.Discard())
	errc := make(chan error, 1)
	go func() { errc <- a.run(context.Background(), lines) }()
	return lines, out, errc
}

func TestAgentEditsAndSaves(t *testing.T) {
	url, store, reg := startServer(t)
	store.Seed("r1:summary", "draft")

	lines, out, errc := startAgent(t, url, "r1:summary")

	// typed before the snapshot arrives, replayed after it
	lines <- "draft v2"
	lines <- ":save"
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "saved v1 by you") },
		2*time.Second, 10*time.Millisecond, out.String())
	assert.Contains(t, out.String(), `= "draft"`)

	close(lines)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}

	got, err := store.Fetch(context.Background(), "r1:summary")
	require.NoError(t, err)
	assert.Equal(t, "draft v2", got)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAgentPrintsRemoteChanges(t *testing.T) {
	url, store, _ := startServer(t)
	store.Seed("d", "Hi there")

	lines, out, errc := startAgent(t, url, "d")
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "joined d at v0") },
		2*time.Second, 10*time.Millisecond)

	header := http.Header{}
	header.Set(identity.HeaderUserID, "bob")
	header.Set(identity.HeaderUserName, "Bob")
	bob, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer bob.Close()

	write := func(m *protocol.Message) {
		b, err := m.Encode()
		require.NoError(t, err)
		require.NoError(t, bob.WriteMessage(websocket.TextMessage, b))
	}
	write(protocol.MustNew(protocol.TypeJoin, "d", nil))
	write(protocol.MustNew(protocol.TypeOperation, "d", protocol.Operation{
		Operation: textop.Operation{Type: textop.Insert, Position: 8, Text: "!"},
	}))

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "* Bob joined") && strings.Contains(s, `by Bob: "Hi there!"`)
	}, 2*time.Second, 10*time.Millisecond, out.String())

	lines <- ":who"
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "* here: Bob@0") },
		2*time.Second, 10*time.Millisecond, out.String())

	bob.Close()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "* Bob left") },
		2*time.Second, 10*time.Millisecond, out.String())

	lines <- ":quit"
	require.NoError(t, <-errc)
}

func TestAgentKeepsTextWhenEditIsRefused(t *testing.T) {
	url, store, _ := startServer(t)
	store.Seed("d", "abc")

	lines, out, errc := startAgent(t, url, "d")
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "joined d at v0") },
		2*time.Second, 10*time.Millisecond)

	lines <- "xyz"
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "delete or insert first") },
		2*time.Second, 10*time.Millisecond, out.String())
	assert.Contains(t, out.String(), `= "abc"`)

	close(lines)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	got, err := store.Fetch(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}
