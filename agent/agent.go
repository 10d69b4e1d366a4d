package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"collabtext/internal/client"
	"collabtext/internal/identity"
	"collabtext/internal/protocol"
)

const writeWait = 10 * time.Second

// errQuit ends the session without reconnecting.
var errQuit = errors.New("quit")

type agent struct {
	opts    options
	out     io.Writer
	log     *slog.Logger
	replica *client.Replica
	bo      *backoff.ExponentialBackOff

	// input typed while not synced, replayed after the next snapshot
	backlog []string
}

func newAgent(opts options, out io.Writer, log *slog.Logger) *agent {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return &agent{
		opts:    opts,
		out:     out,
		log:     log,
		replica: client.NewReplica(opts.document),
		bo:      bo,
	}
}

// run keeps a session open, reconnecting with exponential back-off, until
// the input ends, :quit is typed or ctx is cancelled.
func (a *agent) run(ctx context.Context, lines <-chan string) error {
	err := backoff.RetryNotify(func() error {
		err := a.session(ctx, lines)
		if errors.Is(err, errQuit) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(a.bo, ctx), func(err error, next time.Duration) {
		a.log.Warn("connection lost", "error", err, "retry_in", next)
		a.printf("! disconnected, retrying in %s", next.Round(time.Millisecond))
	})
	if errors.Is(err, errQuit) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *agent) session(ctx context.Context, lines <-chan string) error {
	header := http.Header{}
	header.Set(identity.HeaderUserID, a.opts.user)
	if a.opts.name != "" {
		header.Set(identity.HeaderUserName, a.opts.name)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.opts.server, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.opts.server, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	frames := make(chan *protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			m, err := protocol.Decode(b)
			if err != nil {
				a.log.Warn("skipping frame", "error", err)
				continue
			}
			select {
			case frames <- m:
			case <-done:
				return
			}
		}
	}()

	send := func(m *protocol.Message) error {
		b, err := m.Encode()
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if err := send(a.replica.Join()); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			a.leave(conn, send)
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case m := <-frames:
			if err := a.handle(m, send); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == ":quit" {
				a.leave(conn, send)
				return errQuit
			}
			if err := a.input(line, send); err != nil {
				return err
			}
		}
	}
}

func (a *agent) leave(conn *websocket.Conn, send func(*protocol.Message) error) {
	if err := send(a.replica.Leave()); err != nil {
		a.log.Debug("leave", "error", err)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (a *agent) ready() bool {
	switch a.replica.State() {
	case client.Synced, client.Applying, client.Receiving:
		return true
	}
	return false
}

func (a *agent) input(line string, send func(*protocol.Message) error) error {
	if !a.ready() {
		a.backlog = append(a.backlog, line)
		return nil
	}
	switch strings.TrimSpace(line) {
	case ":who":
		a.printRoster()
		return nil
	case ":save":
		return send(a.replica.Save())
	}
	m, err := a.replica.Edit(line)
	if errors.Is(err, client.ErrUnrepresentable) {
		a.printf("! %v; delete or insert first", err)
		a.printf("= %q", a.replica.Content())
		return nil
	}
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if err := send(m); err != nil {
		return err
	}
	return send(a.replica.Cursor(len([]rune(line))))
}

func (a *agent) handle(m *protocol.Message, send func(*protocol.Message) error) error {
	before := a.replica.Content()
	var leaving string
	if m.Type == protocol.TypeCollaboratorLeft {
		var cl protocol.CollaboratorLeft
		if m.ParseData(&cl) == nil {
			leaving = a.nameOf(cl.ID)
		}
	}
	err := a.replica.Handle(m)
	switch {
	case errors.Is(err, client.ErrDiverged):
		a.printf("! out of sync, reloading")
		return send(a.replica.Join())
	case errors.Is(err, client.ErrRejected):
		a.printf("! %v", err)
		if a.replica.State() == client.Disconnected {
			return send(a.replica.Join())
		}
		if a.replica.Content() != before {
			a.printf("= %q", a.replica.Content())
		}
		return nil
	case err != nil:
		a.log.Warn("unhandled frame", "type", m.Type, "error", err)
		return nil
	}

	switch m.Type {
	case protocol.TypeInitialized:
		a.bo.Reset()
		a.printf("joined %s at v%d as %s", a.replica.DocumentID(), a.replica.Version(), a.replica.Self())
		a.printf("= %q", a.replica.Content())
		a.printRoster()
		backlog := a.backlog
		a.backlog = nil
		for _, line := range backlog {
			if strings.TrimSpace(line) == ":quit" {
				return errQuit
			}
			if err := a.input(line, send); err != nil {
				return err
			}
		}
	case protocol.TypeOperationApplied:
		var oa protocol.OperationApplied
		if m.ParseData(&oa) == nil && a.replica.Content() != before {
			a.printf("v%d %s by %s: %q", oa.Version, oa.Operation, a.nameOf(oa.OriginatorID), a.replica.Content())
		}
	case protocol.TypeAck:
		a.log.Debug("acknowledged", "version", a.replica.Version())
		if a.replica.Content() != before {
			a.printf("= %q", a.replica.Content())
		}
	case protocol.TypeCollaboratorJoined:
		var cj protocol.CollaboratorJoined
		if m.ParseData(&cj) == nil {
			a.printf("* %s joined", cj.DisplayName)
		}
	case protocol.TypeCollaboratorLeft:
		a.printf("* %s left", leaving)
	case protocol.TypeSaved:
		var s protocol.Saved
		if m.ParseData(&s) == nil {
			a.printf("saved v%d by %s", s.Version, a.nameOf(s.SavedBy))
		}
	}
	return nil
}

func (a *agent) nameOf(participantID string) string {
	if participantID == a.replica.Self() {
		return "you"
	}
	for _, c := range a.replica.Roster() {
		if c.ID == participantID {
			return c.DisplayName
		}
	}
	return participantID
}

func (a *agent) printRoster() {
	roster := a.replica.Roster()
	if len(roster) == 0 {
		a.printf("* nobody else is here")
		return
	}
	names := make([]string, len(roster))
	for i, c := range roster {
		names[i] = fmt.Sprintf("%s@%d", c.DisplayName, c.CursorPosition)
	}
	a.printf("* here: %s", strings.Join(names, ", "))
}

func (a *agent) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}
