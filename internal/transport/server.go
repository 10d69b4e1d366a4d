// Package transport serves the sync protocol over WebSocket and routes the
// server's HTTP endpoints.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"collabtext/internal/config"
	"collabtext/internal/identity"
	"collabtext/internal/metrics"
	"collabtext/internal/protocol"
	"collabtext/internal/room"
)

// Server accepts WebSocket connections and hands their frames to the room
// registry.
type Server struct {
	registry *room.Registry
	ident    identity.Provider
	limits   config.LimitsConfig
	upgrader websocket.Upgrader
	log      *slog.Logger

	// base is cancelled by Shutdown; connection requests derive from it
	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// Options configures a Server.
type Options struct {
	Registry       *room.Registry
	Identity       identity.Provider
	Limits         config.LimitsConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Identity == nil {
		opts.Identity = identity.HeaderProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Limits.SendBuffer <= 0 {
		opts.Limits = config.Default().Limits
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry: opts.Registry,
		ident:    opts.Identity,
		limits:   opts.Limits,
		log:      opts.Logger,
		base:     base,
		cancel:   cancel,
		conns:    make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return s
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// NewRouter routes the WebSocket endpoint, health and metrics.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"rooms":  s.registry.Len(),
	})
}

// ServeWS upgrades the request and runs the connection until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ident, err := s.ident.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if s.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		s.log.Debug("upgrade failed", "error", err)
		return
	}

	id := identity.ParticipantID(ident)
	c := &Conn{
		id:     id,
		ident:  ident,
		ws:     ws,
		srv:    s,
		log:    s.log.With("participant", id),
		cursor: rate.NewLimiter(rate.Limit(s.limits.CursorRate), s.limits.CursorBurst),
		send:   make(chan *protocol.Message, s.limits.SendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
	if !s.track(c) {
		ws.Close()
		return
	}
	defer s.untrack(c)

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()
	c.log.Info("client connected", "user", ident.UserID, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(s.base)
	c.log.Info("client disconnected")
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown closes every connection and waits until each has left its rooms,
// or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
