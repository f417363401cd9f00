// Package session implements the authoritative in-memory set of automation
// sessions: identity, timeout policy, log ring buffer, attached client
// connection, and lifecycle state.
//
// The store performs no blocking I/O and is not safe for concurrent use on
// its own: all mutations funnel through the relay router's event loop,
// which is the single owner of session state.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State describes where a session is in its lifecycle.
type State string

const (
	// StateActive means a client connection is attached.
	StateActive State = "active"

	// StateIdle means no connection is attached but the idle timeout has
	// not yet elapsed; the session can be resumed.
	StateIdle State = "idle"

	// StateExpired means the idle timeout elapsed. Expired sessions linger
	// for a grace period so late resume attempts get a distinct error and
	// logs stay retrievable, then they are removed.
	StateExpired State = "expired"

	// StateClosed means the session was explicitly terminated.
	StateClosed State = "closed"
)

// Direction tags a log entry as client-to-relay or relay-to-client.
type Direction string

const (
	DirectionIn  Direction = "in"  // command submitted by the client
	DirectionOut Direction = "out" // response or event delivered for the session
)

// LogEntry is one bounded-history record of session traffic.
type LogEntry struct {
	Direction Direction       `json:"direction"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Conn is the minimal surface the session layer needs from an attached
// client connection. Implemented by the WebSocket client in internal/server.
type Conn interface {
	// SendJSON queues a message for delivery to the client. It must not
	// block; implementations drop or disconnect on a saturated client.
	SendJSON(v interface{}) error

	// CloseNow tears the connection down without a close handshake.
	CloseNow()
}

// Session is one client's logical automation context. Its identity is
// stable across resume; only the attached connection changes.
type Session struct {
	// ID is the opaque unique identifier, stable across reconnects.
	ID string

	// Timeout is the idle timeout chosen at creation.
	Timeout time.Duration

	CreatedAt      time.Time
	LastActivityAt time.Time

	// ExpiresAt is always LastActivityAt + Timeout.
	ExpiresAt time.Time

	// State is the current lifecycle state.
	State State

	// Conn is the attached client connection, nil while idle. Ownership
	// is exclusive: attaching on resume replaces any prior (dead) value.
	Conn Conn

	// expiredAt records when the sweep marked the session expired, for
	// grace-period accounting.
	expiredAt time.Time

	log *ring
}

// Touch refreshes the activity clock. Called on every inbound or outbound
// activity for the session.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(s.Timeout)
}

// AppendLog records one traffic entry, evicting the oldest when the ring
// is full. Returns the entry so callers can archive it.
func (s *Session) AppendLog(dir Direction, now time.Time, payload json.RawMessage) LogEntry {
	e := LogEntry{Direction: dir, Timestamp: now, Payload: payload}
	s.log.push(e)
	return e
}

// Log returns the retained entries, oldest first.
func (s *Session) Log() []LogEntry {
	return s.log.entries()
}

// LogLen returns how many entries the ring currently holds.
func (s *Session) LogLen() int {
	return s.log.len()
}

// ring is a fixed-capacity FIFO of log entries.
type ring struct {
	buf   []LogEntry
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]LogEntry, capacity)}
}

func (r *ring) push(e LogEntry) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// Full: overwrite the oldest slot and advance the window.
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) entries() []LogEntry {
	out := make([]LogEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.count
}

// newID generates a fresh session identifier.
func newID() string {
	return uuid.NewString()
}
