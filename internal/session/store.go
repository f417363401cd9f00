package session

import (
	"fmt"
	"time"

	apperrors "github.com/tabremote/relay/internal/errors"
)

// Options configures a Store.
type Options struct {
	// LogCapacity is the per-session log ring size.
	LogCapacity int

	// GracePeriod is how long an expired session lingers (unreachable for
	// resume, logs still retrievable) before removal.
	GracePeriod time.Duration
}

// Store holds every live session indexed by id. It is mutated only from
// the router's event loop; see the package comment.
type Store struct {
	opts     Options
	sessions map[string]*Session
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = 100
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = time.Second
	}
	return &Store{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create makes a fresh Active session with the given idle timeout and
// attaches the connection.
func (st *Store) Create(timeout time.Duration, conn Conn, now time.Time) *Session {
	s := &Session{
		ID:        newID(),
		Timeout:   timeout,
		CreatedAt: now,
		State:     StateActive,
		Conn:      conn,
		log:       newRing(st.opts.LogCapacity),
	}
	s.Touch(now)
	st.sessions[s.ID] = s
	return s
}

// Resume reattaches a connection to an existing Idle session. The session
// id never changes across resume. Fails with session.not_found for unknown
// ids, session.expired for sessions past their idle timeout, and
// session.busy when a live connection is already attached.
func (st *Store) Resume(id string, conn Conn, now time.Time) (*Session, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSessionNotFound,
			fmt.Sprintf("no session with id %s", id))
	}

	switch s.State {
	case StateExpired:
		return nil, apperrors.New(apperrors.CodeSessionExpired,
			fmt.Sprintf("session %s expired", id))
	case StateActive:
		return nil, apperrors.New(apperrors.CodeSessionBusy,
			fmt.Sprintf("session %s already has a connection", id))
	case StateClosed:
		// Closed sessions are removed immediately, so this state is never
		// observable here; treat it like not found if it ever is.
		return nil, apperrors.New(apperrors.CodeSessionNotFound,
			fmt.Sprintf("session %s closed", id))
	}

	// Idle sessions past their deadline that the sweep has not visited
	// yet count as expired for resume purposes.
	if !now.Before(s.ExpiresAt) {
		return nil, apperrors.New(apperrors.CodeSessionExpired,
			fmt.Sprintf("session %s expired", id))
	}

	s.State = StateActive
	s.Conn = conn
	s.Touch(now)
	return s, nil
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(id string) *Session {
	return st.sessions[id]
}

// Touch refreshes a session's activity clock if it exists.
func (st *Store) Touch(id string, now time.Time) {
	if s, ok := st.sessions[id]; ok {
		s.Touch(now)
	}
}

// Detach handles a client disconnect: the session goes Idle but survives
// with its log and pending requests intact.
func (st *Store) Detach(id string, now time.Time) {
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	if s.State == StateActive {
		s.State = StateIdle
		s.Conn = nil
		s.Touch(now)
	}
}

// Close explicitly terminates a session and removes it immediately.
// Returns the removed session so the caller can cancel its pending
// requests and archive its log, or an error if the id is unknown.
func (st *Store) Close(id string) (*Session, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSessionNotFound,
			fmt.Sprintf("no session with id %s", id))
	}
	s.State = StateClosed
	s.Conn = nil
	delete(st.sessions, id)
	return s, nil
}

// Sweep advances lifecycle state for every session. Idle sessions past
// their deadline become Expired; Expired sessions past the grace period
// are removed. Returns the sessions that expired on this pass (so the
// caller can fail their pending requests) and the ones removed.
func (st *Store) Sweep(now time.Time) (expired, removed []*Session) {
	for id, s := range st.sessions {
		switch s.State {
		case StateIdle:
			if !now.Before(s.ExpiresAt) {
				s.State = StateExpired
				s.expiredAt = now
				expired = append(expired, s)
			}
		case StateExpired:
			if now.Sub(s.expiredAt) >= st.opts.GracePeriod {
				delete(st.sessions, id)
				removed = append(removed, s)
			}
		}
	}
	return expired, removed
}

// Len returns the number of live sessions (any state short of removal).
func (st *Store) Len() int {
	return len(st.sessions)
}

// All returns every live session. The slice is a snapshot; the sessions
// are the live objects.
func (st *Store) All() []*Session {
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}
