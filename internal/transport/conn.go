package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"collabtext/internal/identity"
	"collabtext/internal/metrics"
	"collabtext/internal/protocol"
	"collabtext/internal/reportstore"
	"collabtext/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is one client connection. It is the room.Sink for every document the
// client joined; frames are queued and written by writePump.
type Conn struct {
	id     string
	ident  identity.Identity
	ws     *websocket.Conn
	srv    *Server
	log    *slog.Logger
	cursor *rate.Limiter

	send      chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	// documents joined on this connection; only touched by readPump
	joined map[string]struct{}

	// in-flight saves
	saves sync.WaitGroup
}

// ID returns the participant id of the connection.
func (c *Conn) ID() string { return c.id }

// Deliver queues m for writing. Cursor updates are dropped when the queue is
// full; any other frame closes the connection instead, since a client that
// misses an operation can no longer follow the document.
func (c *Conn) Deliver(m *protocol.Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- m:
	default:
		if m.BestEffort() {
			metrics.CursorFramesDroppedTotal.Inc()
			return
		}
		c.log.Warn("send queue full, closing connection", "type", m.Type, "document", m.DocumentID)
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) reply(documentID string, err error) {
	c.Deliver(errorFrame(documentID, err, nil, nil))
}

func errorFrame(documentID string, err error, content *string, version *uint64) *protocol.Message {
	return protocol.MustNew(protocol.TypeError, documentID, protocol.Error{
		Code:    codeFor(err),
		Message: err.Error(),
		Content: content,
		Version: version,
	})
}

// errBadRequest marks frames the server cannot act on.
var errBadRequest = errors.New("bad request")

func codeFor(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidOperation):
		return protocol.CodeInvalidOperation
	case errors.Is(err, room.ErrStaleSession):
		return protocol.CodeStaleSession
	case errors.Is(err, room.ErrPersistenceFailure):
		return protocol.CodePersistenceFailure
	case errors.Is(err, errBadRequest), errors.Is(err, reportstore.ErrEmptyID),
		errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrMalformedFrame):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case m := <-c.send:
			b, err := m.Encode()
			if err != nil {
				c.log.Error("encode frame", "type", m.Type, "error", err)
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump reads frames until the connection fails, then leaves every
// document the client is still in.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.saves.Wait()
		for documentID := range c.joined {
			if _, err := c.srv.registry.Leave(context.Background(), documentID, c.id); err != nil {
				c.log.Warn("leave on disconnect", "document", documentID, "error", err)
			}
		}
	}()

	c.ws.SetReadLimit(c.srv.limits.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		m, err := protocol.Decode(b)
		if err != nil {
			c.reply("", err)
			continue
		}
		c.dispatch(ctx, m)
	}
}

func (c *Conn) dispatch(ctx context.Context, m *protocol.Message) {
	if m.DocumentID == "" {
		c.reply("", fmt.Errorf("%w: %s without documentId", errBadRequest, m.Type))
		return
	}
	switch m.Type {
	case protocol.TypeJoin:
		c.join(ctx, m.DocumentID)
	case protocol.TypeOperation:
		c.operation(ctx, m)
	case protocol.TypeCursor:
		c.moveCursor(m)
	case protocol.TypeSave:
		c.save(ctx, m.DocumentID)
	case protocol.TypeLeave:
		c.leave(ctx, m.DocumentID)
	default:
		c.reply(m.DocumentID, fmt.Errorf("%w: %s is not a client frame", errBadRequest, m.Type))
	}
}

func (c *Conn) join(ctx context.Context, documentID string) {
	p := room.Participant{ID: c.id, DisplayName: c.ident.DisplayName}
	if _, err := c.srv.registry.Join(ctx, documentID, p, c); err != nil {
		c.log.Warn("join failed", "document", documentID, "error", err)
		c.reply(documentID, err)
		return
	}
	c.joined[documentID] = struct{}{}
}

func (c *Conn) operation(ctx context.Context, m *protocol.Message) {
	if _, ok := c.joined[m.DocumentID]; !ok {
		c.reply(m.DocumentID, fmt.Errorf("not joined to %s: %w", m.DocumentID, room.ErrStaleSession))
		return
	}
	var payload protocol.Operation
	if err := m.ParseData(&payload); err != nil {
		c.reply(m.DocumentID, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	content, version, err := c.srv.registry.Apply(ctx, m.DocumentID, c.id, payload.Operation)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrInvalidOperation):
		c.Deliver(errorFrame(m.DocumentID, err, &content, &version))
	default:
		if errors.Is(err, room.ErrStaleSession) {
			delete(c.joined, m.DocumentID)
		}
		c.reply(m.DocumentID, err)
	}
}

func (c *Conn) moveCursor(m *protocol.Message) {
	var payload protocol.Cursor
	if err := m.ParseData(&payload); err != nil {
		c.reply(m.DocumentID, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, ok := c.joined[m.DocumentID]; !ok || !c.cursor.Allow() {
		metrics.CursorFramesDroppedTotal.Inc()
		return
	}
	if !c.srv.registry.Cursor(m.DocumentID, c.id, payload.Position) {
		metrics.CursorFramesDroppedTotal.Inc()
	}
}

// save runs off the read loop so the client's edits keep flowing while the
// store is written.
func (c *Conn) save(ctx context.Context, documentID string) {
	if _, ok := c.joined[documentID]; !ok {
		c.reply(documentID, fmt.Errorf("not joined to %s: %w", documentID, room.ErrStaleSession))
		return
	}
	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		if _, err := c.srv.registry.Save(ctx, documentID, c.id); err != nil {
			c.reply(documentID, err)
		}
	}()
}

func (c *Conn) leave(ctx context.Context, documentID string) {
	delete(c.joined, documentID)
	if _, err := c.srv.registry.Leave(ctx, documentID, c.id); err != nil {
		c.reply(documentID, err)
	}
}
