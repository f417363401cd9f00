// Package server provides the client-facing WebSocket listener. It accepts
// inbound client connections, validates the session handshake, and hands
// each connection to the relay router for session assignment. After the
// handshake, traffic on a connection belongs to exactly one session.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/tabremote/relay/internal/errors"
	"github.com/tabremote/relay/internal/relay"
	"github.com/tabremote/relay/internal/session"
)

// channelBufferSize is the per-client send channel buffer. It balances
// memory against the ability to absorb bursts without blocking the router;
// a client that cannot drain this many messages is disconnected.
const channelBufferSize = 256

// handshakeTimeout bounds how long a fresh connection may take to present
// its handshake frame.
const handshakeTimeout = 10 * time.Second

// Rate limit for inbound commands per connection: sustained commands per
// second and burst. Excess commands get a structured error, not silence.
const (
	commandRatePerSecond = 50
	commandRateBurst     = 100
)

// SessionRouter is the relay surface the listener needs. Implemented by
// *relay.Router.
type SessionRouter interface {
	Connect(req relay.ConnectRequest) (relay.ConnectResult, error)
	Disconnect(sessionID string, conn session.Conn)
	Dispatch(sessionID string, req relay.ClientRequest)
	SessionLog(sessionID string) ([]session.LogEntry, bool)
	Stats() relay.Stats
}

// TokenValidator checks a handshake token. Returns an error (with a
// handshake.* code) when the token is missing or unknown.
type TokenValidator func(token string) error

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:9223".
	Addr string

	// DefaultTimeout applies when a handshake requests no idle timeout.
	DefaultTimeout time.Duration

	// MinTimeout and MaxTimeout bound the idle timeout a handshake may
	// request. Out-of-range values are rejected before session creation.
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// ValidateToken authenticates handshakes; nil disables auth.
	ValidateToken TokenValidator

	// Logger emits operational events. Defaults to the standard logger.
	Logger *log.Logger
}

// Server accepts client WebSocket connections and maps each to a session.
type Server struct {
	opts   Options
	router SessionRouter
	logger *log.Logger

	upgrader websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*Client]bool
	stopped    bool
	listener   net.Listener
	httpServer *http.Server
}

// New creates a Server wired to the given router.
func New(router SessionRouter, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Server{
		opts:   opts,
		router: router,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native tooling, not browsers; origin checks
			// do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
	}
}

// Start begins listening. It returns once the listener is bound; serving
// continues on a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.createMux()}
	s.mu.Unlock()

	s.logger.Printf("server: listening on %s", listener.Addr())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server: serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful with ":0" in tests.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	for _, c := range clients {
		c.CloseNow()
	}
	if httpServer != nil {
		return httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// createMux builds the HTTP surface: the WebSocket endpoint and a health
// endpoint for the CLI.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// handleHealthz reports router statistics as JSON.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.router.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		relay.Stats
		Clients int `json:"clients"`
	}{Stats: stats, Clients: s.ClientCount()})
}

// handleWebSocket upgrades the connection, runs the session handshake,
// and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("server: upgrade failed: %v", err)
		return
	}

	client, err := s.handshake(conn)
	if err != nil {
		// Reject before any session exists: send the structured error and
		// close. The caller may retry with a corrected handshake.
		code, message := apperrors.ToCodeAndMessage(err)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteJSON(errorFrame{Type: "error", Error: errorBody{Code: code, Message: message}})
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("server: client attached to session %s (%d connected)", client.sessionID, total)

	go client.writePump()
	go client.readPump()
}

// handshake reads and validates the first frame, then asks the router for
// a session. No session is created for invalid handshakes.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeHandshakeMalformed, "handshake not received", err)
	}

	var hs handshakeRequest
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeHandshakeMalformed, "handshake not parseable", err)
	}

	if s.opts.ValidateToken != nil {
		if err := s.opts.ValidateToken(hs.Token); err != nil {
			return nil, err
		}
	}

	timeout := s.opts.DefaultTimeout
	if hs.TimeoutMs != 0 {
		timeout = time.Duration(hs.TimeoutMs) * time.Millisecond
		if timeout < s.opts.MinTimeout || timeout > s.opts.MaxTimeout {
			return nil, apperrors.New(apperrors.CodeHandshakeInvalidTimeout,
				fmt.Sprintf("timeoutMs %d outside [%d, %d]",
					hs.TimeoutMs, s.opts.MinTimeout.Milliseconds(), s.opts.MaxTimeout.Milliseconds()))
		}
	}

	client := newClient(s, conn)
	res, err := s.router.Connect(relay.ConnectRequest{
		Conn:            client,
		ResumeSessionID: hs.ResumeSessionID,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, err
	}
	client.sessionID = res.SessionID

	// Acknowledge with the assigned session so the client can store the
	// id for later resume.
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	ack := handshakeAck{
		Type:      "hello",
		SessionID: res.SessionID,
		Resumed:   res.Resumed,
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if err := conn.WriteJSON(ack); err != nil {
		s.router.Disconnect(res.SessionID, client)
		return nil, apperrors.Wrap(apperrors.CodeServerSendFailed, "handshake ack failed", err)
	}
	conn.SetReadDeadline(time.Time{})

	return client, nil
}

// removeClient unregisters a client after its read pump exits.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	remaining := len(s.clients)
	s.mu.Unlock()
	s.logger.Printf("server: client for session %s disconnected (%d remaining)", c.sessionID, remaining)
}

// handshakeRequest is the first frame a client sends after connecting.
type handshakeRequest struct {
	// ResumeSessionID reattaches an existing session; empty creates one.
	ResumeSessionID string `json:"resumeSessionId,omitempty"`

	// TimeoutMs is the requested idle timeout; 0 means the server default.
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// Token authenticates the client when the relay requires auth.
	Token string `json:"token,omitempty"`
}

// handshakeAck confirms session assignment.
type handshakeAck struct {
	Type      string `json:"type"` // always "hello"
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
	ExpiresAt string `json:"expiresAt"`
}

// errorFrame is the shape of connection-level errors sent to clients.
type errorFrame struct {
	Type  string    `json:"type"` // always "error"
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
