package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tabremote/relay/internal/codec"
	apperrors "github.com/tabremote/relay/internal/errors"
	"github.com/tabremote/relay/internal/pending"
	"github.com/tabremote/relay/internal/session"
)

// opsBufferSize is the buffer of the router's event channel. It absorbs
// bursts from many client connections without making callers wait on the
// loop for every post.
const opsBufferSize = 256

// Bridge is the shared-transport endpoint as the router sees it: a single
// size-limited channel to the extension-side executor.
type Bridge interface {
	// Send encodes and writes one logical message. It returns an error
	// when no bridge connection is established.
	Send(msg *codec.LogicalMessage) error

	// Connected reports whether a bridge connection is currently up.
	Connected() bool
}

// Archiver receives session history for persistence. Implementations must
// not block; the router calls these from its event loop. A nil Archiver
// disables archiving.
type Archiver interface {
	// SessionOpened records a new session.
	SessionOpened(id string, createdAt time.Time, timeout time.Duration)

	// SessionEnded records a session leaving the store with its final
	// state ("closed" or "expired").
	SessionEnded(id string, state string, endedAt time.Time)

	// LogAppended records one session log entry.
	LogAppended(sessionID string, entry session.LogEntry)
}

// Options configures a Router.
type Options struct {
	// SessionLogEntries is the per-session log ring capacity.
	SessionLogEntries int

	// GracePeriod is how long expired sessions linger before removal.
	GracePeriod time.Duration

	// RequestDeadline is the relay-enforced lifetime of a forwarded
	// command.
	RequestDeadline time.Duration

	// SweepInterval is the period of the timeout sweep.
	SweepInterval time.Duration

	// Archive receives session history; may be nil.
	Archive Archiver

	// Logger emits operational events. Defaults to the standard logger.
	Logger *log.Logger
}

// Router is the protocol state machine. It owns the session store and the
// pending-request table; every mutation of either runs on the router's
// single event-loop goroutine, so neither needs locking. Exported methods
// are safe to call from any goroutine: they post work to the loop.
type Router struct {
	opts   Options
	store  *session.Store
	table  *pending.Table
	bridge Bridge
	logger *log.Logger

	// bridgeReady tracks whether the extension announced readiness on the
	// current bridge connection.
	bridgeReady bool

	ops  chan func()
	quit chan struct{}
	done chan struct{}
}

// NewRouter creates a Router. Call Start to run its event loop.
func NewRouter(bridge Bridge, opts Options) *Router {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.RequestDeadline <= 0 {
		opts.RequestDeadline = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Router{
		opts:   opts,
		bridge: bridge,
		logger: opts.Logger,
		store: session.NewStore(session.Options{
			LogCapacity: opts.SessionLogEntries,
			GracePeriod: opts.GracePeriod,
		}),
		table: pending.NewTable(),
		ops:   make(chan func(), opsBufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// SetBridge installs the shared transport. The router and the transport
// endpoint reference each other, so one side is wired after construction.
// Must be called before Start.
func (r *Router) SetBridge(bridge Bridge) {
	r.bridge = bridge
}

// Start launches the event loop.
func (r *Router) Start() {
	go r.run()
}

// Stop terminates the event loop. Pending requests are not failed here:
// shutdown tears down the whole process and clients observe a disconnect.
func (r *Router) Stop() {
	close(r.quit)
	<-r.done
}

func (r *Router) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-r.ops:
			fn()
		case <-ticker.C:
			r.sweep(time.Now())
		case <-r.quit:
			return
		}
	}
}

// post schedules fn on the event loop. Returns false once the router has
// stopped.
func (r *Router) post(fn func()) bool {
	select {
	case r.ops <- fn:
		return true
	case <-r.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it to finish.
func (r *Router) call(fn func()) bool {
	ran := make(chan struct{})
	if !r.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-r.done:
		return false
	}
}

// ConnectRequest carries a validated handshake into session assignment.
type ConnectRequest struct {
	// Conn is the freshly accepted client connection.
	Conn session.Conn

	// ResumeSessionID is the session to reattach, or empty for a new one.
	ResumeSessionID string

	// Timeout is the idle timeout for a new session. Ignored on resume:
	// the timeout chosen at creation is part of the session's identity.
	Timeout time.Duration
}

// ConnectResult reports the assigned session.
type ConnectResult struct {
	SessionID string
	Resumed   bool
	ExpiresAt time.Time
}

// Connect assigns or resumes a session for a new client connection. The
// listener validates handshake fields (timeout bounds, auth) before
// calling this.
func (r *Router) Connect(req ConnectRequest) (ConnectResult, error) {
	var res ConnectResult
	var err error
	ok := r.call(func() {
		res, err = r.connect(req, time.Now())
	})
	if !ok {
		return ConnectResult{}, apperrors.New(apperrors.CodeInternal, "relay shutting down")
	}
	return res, err
}

func (r *Router) connect(req ConnectRequest, now time.Time) (ConnectResult, error) {
	if req.ResumeSessionID == "" {
		s := r.store.Create(req.Timeout, req.Conn, now)
		r.logger.Printf("relay: session %s created (timeout %s)", s.ID, s.Timeout)
		if r.opts.Archive != nil {
			r.opts.Archive.SessionOpened(s.ID, s.CreatedAt, s.Timeout)
		}
		return ConnectResult{SessionID: s.ID, ExpiresAt: s.ExpiresAt}, nil
	}

	// Resuming over a session that still looks Active means the prior
	// connection died without the server noticing yet. Ownership is
	// exclusive: kick the dead connection and take over.
	if s := r.store.Get(req.ResumeSessionID); s != nil && s.State == session.StateActive {
		old := s.Conn
		r.store.Detach(s.ID, now)
		if old != nil {
			old.CloseNow()
		}
	}

	s, err := r.store.Resume(req.ResumeSessionID, req.Conn, now)
	if err != nil {
		return ConnectResult{}, err
	}
	r.logger.Printf("relay: session %s resumed", s.ID)
	return ConnectResult{SessionID: s.ID, Resumed: true, ExpiresAt: s.ExpiresAt}, nil
}

// Disconnect handles a client connection going away. The session survives
// as Idle; a later handshake can resume it. The conn argument guards
// against a stale disconnect detaching a replacement connection.
func (r *Router) Disconnect(sessionID string, conn session.Conn) {
	r.post(func() {
		s := r.store.Get(sessionID)
		if s == nil || s.Conn != conn {
			return
		}
		r.store.Detach(sessionID, time.Now())
		r.logger.Printf("relay: session %s detached", sessionID)
	})
}

// Dispatch routes one client command. Lifecycle actions are answered
// locally; everything else is recorded as pending and forwarded to the
// bridge. The terminal response arrives asynchronously on the session's
// connection (or only in its log, if the session has gone idle by then).
func (r *Router) Dispatch(sessionID string, req ClientRequest) {
	r.post(func() {
		r.dispatch(sessionID, req, time.Now())
	})
}

func (r *Router) dispatch(sessionID string, req ClientRequest, now time.Time) {
	s := r.store.Get(sessionID)
	if s == nil {
		return // connection torn down mid-flight
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	s.Touch(now)

	switch req.Action {
	case ActionSessionStatus:
		r.respondStatus(s, req.RequestID)
		return
	case ActionSessionClose:
		r.closeSession(s, req.RequestID, now)
		return
	}

	// Record the inbound command before anything can fail.
	inPayload, _ := json.Marshal(req)
	r.appendLog(s, session.DirectionIn, now, inPayload)

	if !r.bridge.Connected() {
		r.respond(s, &ClientResponse{
			RequestID: req.RequestID,
			Error:     &codec.ErrorInfo{Code: apperrors.CodeTransportUnavailable, Message: "extension bridge not connected"},
		}, now)
		return
	}

	if _, err := r.table.Add(sessionID, req.RequestID, now, r.opts.RequestDeadline); err != nil {
		code, msg := apperrors.ToCodeAndMessage(err)
		r.respond(s, &ClientResponse{
			RequestID: req.RequestID,
			Error:     &codec.ErrorInfo{Code: code, Message: msg},
		}, now)
		return
	}

	err := r.bridge.Send(&codec.LogicalMessage{
		Type:      codec.MessageCommand,
		SessionID: sessionID,
		RequestID: req.RequestID,
		Action:    req.Action,
		Params:    req.Params,
	})
	if err != nil {
		// Drop between the Connected check and the enqueue, or the send
		// queue is saturated. Either way the request fails immediately.
		code, msg := apperrors.ToCodeAndMessage(err)
		r.table.Resolve(sessionID, req.RequestID)
		r.respond(s, &ClientResponse{
			RequestID: req.RequestID,
			Error:     &codec.ErrorInfo{Code: code, Message: msg},
		}, now)
	}
}

// respondStatus answers the session.status lifecycle action locally.
func (r *Router) respondStatus(s *session.Session, requestID string) {
	status := SessionStatus{
		SessionID:    s.ID,
		State:        string(s.State),
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:    s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		TimeoutMs:    s.Timeout.Milliseconds(),
		PendingCount: r.table.LenSession(s.ID),
		LogLength:    s.LogLen(),
	}
	result, _ := json.Marshal(status)
	r.respond(s, &ClientResponse{RequestID: requestID, Result: result}, time.Now())
}

// closeSession handles the session.close lifecycle action: cancel all
// pending requests, confirm the close, and remove the session.
func (r *Router) closeSession(s *session.Session, requestID string, now time.Time) {
	for _, p := range r.table.FailSession(s.ID) {
		r.respond(s, &ClientResponse{
			RequestID: p.RequestID,
			Error:     &codec.ErrorInfo{Code: apperrors.CodeRequestCancelled, Message: "session closed"},
		}, now)
	}

	r.respond(s, &ClientResponse{RequestID: requestID, Result: json.RawMessage(`{"success":true}`)}, now)

	conn := s.Conn
	if _, err := r.store.Close(s.ID); err == nil {
		r.logger.Printf("relay: session %s closed", s.ID)
		if r.opts.Archive != nil {
			r.opts.Archive.SessionEnded(s.ID, string(session.StateClosed), now)
		}
	}
	if conn != nil {
		conn.CloseNow()
	}
}

// HandleBridgeMessage routes one decoded logical message arriving from the
// shared transport. Called by the transport endpoint's read goroutine.
func (r *Router) HandleBridgeMessage(msg *codec.LogicalMessage) {
	r.post(func() {
		r.handleBridgeMessage(msg, time.Now())
	})
}

func (r *Router) handleBridgeMessage(msg *codec.LogicalMessage, now time.Time) {
	switch msg.Type {
	case codec.MessageResponse:
		r.handleResponse(msg, now)
	case codec.MessageEvent, codec.MessageLog:
		r.handleEvent(msg, now)
	case codec.MessageReady:
		r.bridgeReady = true
		r.logger.Printf("relay: extension bridge ready")
	default:
		r.logger.Printf("relay: dropping bridge message of unknown type %q", msg.Type)
	}
}

func (r *Router) handleResponse(msg *codec.LogicalMessage, now time.Time) {
	if _, ok := r.table.Resolve(msg.SessionID, msg.RequestID); !ok {
		// Late reply after timeout/cancellation, or a reply the relay
		// never asked for. The request already got its one terminal
		// resolution, so this is dropped.
		r.logger.Printf("relay: dropping unmatched response %s/%s", msg.SessionID, msg.RequestID)
		return
	}

	s := r.store.Get(msg.SessionID)
	if s == nil {
		return
	}
	s.Touch(now)
	r.respond(s, &ClientResponse{
		RequestID: msg.RequestID,
		Result:    msg.Result,
		Error:     msg.Error,
	}, now)
}

func (r *Router) handleEvent(msg *codec.LogicalMessage, now time.Time) {
	ev := &ClientEvent{Type: string(msg.Type), SessionID: msg.SessionID, Payload: msg.Payload}

	if msg.SessionID != "" {
		s := r.store.Get(msg.SessionID)
		if s == nil {
			return
		}
		s.Touch(now)
		outPayload, _ := json.Marshal(ev)
		r.appendLog(s, session.DirectionOut, now, outPayload)
		if s.State == session.StateActive && s.Conn != nil {
			if err := s.Conn.SendJSON(ev); err != nil {
				r.logger.Printf("relay: event send to session %s failed: %v", s.ID, err)
			}
		}
		return
	}

	// Global event: fan out to every attached connection.
	for _, s := range r.store.All() {
		if s.State == session.StateActive && s.Conn != nil {
			if err := s.Conn.SendJSON(ev); err != nil {
				r.logger.Printf("relay: broadcast to session %s failed: %v", s.ID, err)
			}
		}
	}
}

// BridgeUp is called by the transport endpoint after (re)connecting.
func (r *Router) BridgeUp() {
	r.post(func() {
		r.bridgeReady = false
		r.logger.Printf("relay: extension bridge connected")
	})
}

// BridgeDown is called by the transport endpoint when the connection is
// lost. Every in-flight request across all sessions fails immediately;
// session state is untouched so commands work again after reconnection.
func (r *Router) BridgeDown() {
	r.post(func() {
		now := time.Now()
		r.bridgeReady = false
		failed := r.table.FailAll()
		if len(failed) > 0 {
			r.logger.Printf("relay: bridge lost, failing %d in-flight request(s)", len(failed))
		}
		for _, p := range failed {
			if s := r.store.Get(p.SessionID); s != nil {
				r.respond(s, &ClientResponse{
					RequestID: p.RequestID,
					Error:     &codec.ErrorInfo{Code: apperrors.CodeHostDisconnected, Message: "extension bridge connection lost"},
				}, now)
			}
		}
	})
}

// sweep is the periodic pass: synthesize timeouts for overdue requests and
// advance session lifecycle state.
func (r *Router) sweep(now time.Time) {
	for _, p := range r.table.Expire(now) {
		if s := r.store.Get(p.SessionID); s != nil {
			r.respond(s, &ClientResponse{
				RequestID: p.RequestID,
				Error:     &codec.ErrorInfo{Code: apperrors.CodeRequestTimeout, Message: "command deadline elapsed"},
			}, now)
		}
	}

	expired, removed := r.store.Sweep(now)
	for _, s := range expired {
		r.logger.Printf("relay: session %s expired", s.ID)
		// Idle sessions have no connection; the synthesized failures land
		// in the session log for late retrieval.
		for _, p := range r.table.FailSession(s.ID) {
			r.respond(s, &ClientResponse{
				RequestID: p.RequestID,
				Error:     &codec.ErrorInfo{Code: apperrors.CodeRequestTimeout, Message: "session idle timeout elapsed"},
			}, now)
		}
	}
	for _, s := range removed {
		r.logger.Printf("relay: session %s removed", s.ID)
		if r.opts.Archive != nil {
			r.opts.Archive.SessionEnded(s.ID, string(session.StateExpired), now)
		}
	}
}

// respond delivers one terminal response or synthesized error. Active
// sessions get it on their connection; idle sessions retain it only in the
// log (a client that resumes later inspects the log, replies are not
// replayed).
func (r *Router) respond(s *session.Session, resp *ClientResponse, now time.Time) {
	outPayload, _ := json.Marshal(resp)
	r.appendLog(s, session.DirectionOut, now, outPayload)

	if s.State == session.StateActive && s.Conn != nil {
		if err := s.Conn.SendJSON(resp); err != nil {
			r.logger.Printf("relay: response send to session %s failed: %v", s.ID, err)
		}
	}
}

func (r *Router) appendLog(s *session.Session, dir session.Direction, now time.Time, payload json.RawMessage) {
	entry := s.AppendLog(dir, now, payload)
	if r.opts.Archive != nil {
		r.opts.Archive.LogAppended(s.ID, entry)
	}
}

// SessionLog returns a snapshot of one session's retained log entries.
func (r *Router) SessionLog(sessionID string) ([]session.LogEntry, bool) {
	var entries []session.LogEntry
	var found bool
	r.call(func() {
		if s := r.store.Get(sessionID); s != nil {
			entries = s.Log()
			found = true
		}
	})
	return entries, found
}

// Stats snapshots router state for the health endpoint.
func (r *Router) Stats() Stats {
	var st Stats
	r.call(func() {
		st.Sessions = r.store.Len()
		for _, s := range r.store.All() {
			if s.State == session.StateActive {
				st.ActiveSessions++
			}
		}
		st.PendingRequests = r.table.Len()
		st.BridgeConnected = r.bridge.Connected()
		st.BridgeReady = r.bridgeReady
	})
	return st
}
