package storage

// archive.go bridges the relay's event loop and the SQLite archive. The
// router runs single-threaded and must never block on disk, so archive
// writes go through a buffered channel drained by one writer goroutine.
// When the buffer fills, entries are dropped rather than stalling the loop.

import (
	"log"
	"time"

	"github.com/tabremote/relay/internal/session"
)

const archiveQueueSize = 1024

type archiveOp func(*SQLiteStore)

// Archive records session lifecycle and log traffic to a SQLiteStore
// without blocking the caller. It satisfies the relay's Archiver interface.
type Archive struct {
	store  *SQLiteStore
	logger *log.Logger
	ops    chan archiveOp
	done   chan struct{}
}

// NewArchive starts the writer goroutine. Call Close to flush and stop it.
func NewArchive(store *SQLiteStore, logger *log.Logger) *Archive {
	if logger == nil {
		logger = log.Default()
	}
	a := &Archive{
		store:  store,
		logger: logger,
		ops:    make(chan archiveOp, archiveQueueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Archive) run() {
	defer close(a.done)
	for op := range a.ops {
		op(a.store)
	}
}

// Close drains queued writes and stops the writer goroutine.
func (a *Archive) Close() {
	close(a.ops)
	<-a.done
}

// enqueue hands one write to the writer goroutine. Drops the write when the
// queue is full so the relay loop never blocks on the archive.
func (a *Archive) enqueue(op archiveOp) {
	select {
	case a.ops <- op:
	default:
		a.logger.Printf("archive: queue full, dropping write")
	}
}

// SessionOpened records a new or resumed session.
func (a *Archive) SessionOpened(id string, createdAt time.Time, timeout time.Duration) {
	a.enqueue(func(s *SQLiteStore) {
		rec := &SessionRecord{
			ID:        id,
			CreatedAt: createdAt,
			TimeoutMs: int64(timeout / time.Millisecond),
			State:     string(session.StateActive),
		}
		if err := s.SaveSession(rec); err != nil {
			a.logger.Printf("archive: save session %s: %v", id, err)
		}
	})
}

// SessionEnded records the terminal state of a session.
func (a *Archive) SessionEnded(id string, state string, endedAt time.Time) {
	a.enqueue(func(s *SQLiteStore) {
		if err := s.EndSession(id, state, endedAt); err != nil {
			a.logger.Printf("archive: end session %s: %v", id, err)
		}
	})
}

// LogAppended records one session log entry.
func (a *Archive) LogAppended(sessionID string, entry session.LogEntry) {
	rec := &LogRecord{
		SessionID: sessionID,
		Direction: string(entry.Direction),
		Timestamp: entry.Timestamp,
		Payload:   entry.Payload,
	}
	a.enqueue(func(s *SQLiteStore) {
		if err := s.AppendLog(rec); err != nil {
			a.logger.Printf("archive: append log for %s: %v", sessionID, err)
		}
	})
}
