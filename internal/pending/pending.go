// Package pending tracks in-flight command correlations awaiting a reply
// from the extension bridge.
//
// Requests are keyed by (sessionID, requestID): request ids are unique only
// within a session, never globally, which is why the shared-transport
// envelope always carries both. Every entry leaves the table through
// exactly one of Resolve, Expire, FailSession, or FailAll, so each client
// request gets exactly one terminal resolution.
//
// Like the session store, the table is mutated only from the router's
// event loop and needs no locking.
package pending

import (
	"fmt"
	"time"

	apperrors "github.com/tabremote/relay/internal/errors"
)

// Request is one in-flight command.
type Request struct {
	SessionID string
	RequestID string

	// SubmittedAt is when the command was forwarded to the bridge.
	SubmittedAt time.Time

	// Deadline is the relay-enforced terminal time, independent of any
	// command-specific timeout the executor applies internally.
	Deadline time.Time
}

type key struct {
	sessionID string
	requestID string
}

// Table is the set of all in-flight requests across every session.
type Table struct {
	requests map[key]*Request
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{requests: make(map[key]*Request)}
}

// Add records a new in-flight request. Rejects duplicates: a request id may
// not be reused within a session while the earlier request is unresolved.
func (t *Table) Add(sessionID, requestID string, now time.Time, lifetime time.Duration) (*Request, error) {
	k := key{sessionID, requestID}
	if _, exists := t.requests[k]; exists {
		return nil, apperrors.New(apperrors.CodeRequestDuplicate,
			fmt.Sprintf("request %s already pending for session %s", requestID, sessionID))
	}

	r := &Request{
		SessionID:   sessionID,
		RequestID:   requestID,
		SubmittedAt: now,
		Deadline:    now.Add(lifetime),
	}
	t.requests[k] = r
	return r, nil
}

// Resolve removes and returns the request matching a reply. Returns false
// when no such request is pending (late reply after timeout, or a reply
// the relay never asked for); callers drop those.
func (t *Table) Resolve(sessionID, requestID string) (*Request, bool) {
	k := key{sessionID, requestID}
	r, ok := t.requests[k]
	if !ok {
		return nil, false
	}
	delete(t.requests, k)
	return r, true
}

// Expire removes and returns every request whose deadline has elapsed.
func (t *Table) Expire(now time.Time) []*Request {
	var out []*Request
	for k, r := range t.requests {
		if !now.Before(r.Deadline) {
			delete(t.requests, k)
			out = append(out, r)
		}
	}
	return out
}

// FailSession removes and returns every request owned by one session.
// Used when the session closes or expires.
func (t *Table) FailSession(sessionID string) []*Request {
	var out []*Request
	for k, r := range t.requests {
		if k.sessionID == sessionID {
			delete(t.requests, k)
			out = append(out, r)
		}
	}
	return out
}

// FailAll removes and returns every request in the table. Used when the
// shared transport disconnects: in-flight requests are failed immediately,
// never held for retry.
func (t *Table) FailAll() []*Request {
	out := make([]*Request, 0, len(t.requests))
	for k, r := range t.requests {
		delete(t.requests, k)
		out = append(out, r)
	}
	return out
}

// Len returns the number of in-flight requests.
func (t *Table) Len() int {
	return len(t.requests)
}

// LenSession returns the number of in-flight requests for one session.
func (t *Table) LenSession(sessionID string) int {
	n := 0
	for k := range t.requests {
		if k.sessionID == sessionID {
			n++
		}
	}
	return n
}
