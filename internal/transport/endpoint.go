// Package transport owns the single shared channel to the extension-side
// executor. The endpoint dials the extension bridge, keeps exactly one
// logical connection at a time, and reconnects forever on a fixed backoff
// when the connection drops. Session state is unaffected by reconnection;
// only in-flight requests are lost, and the router fails those immediately
// when notified.
package transport

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tabremote/relay/internal/codec"
	apperrors "github.com/tabremote/relay/internal/errors"
)

// dialTimeout bounds one connection attempt.
const dialTimeout = 10 * time.Second

// readBufferSize is the per-read buffer for the bridge stream.
const readBufferSize = 64 * 1024

// sendQueueSize bounds the outbound message queue. Send fails fast when the
// queue is full rather than blocking the caller.
const sendQueueSize = 256

// writeTimeout bounds each write to the bridge connection.
const writeTimeout = 10 * time.Second

// errStopped aborts the backoff retry loop during shutdown.
var errStopped = errors.New("endpoint stopped")

// Handler receives the endpoint's upcalls. Implemented by the relay router.
type Handler interface {
	// HandleBridgeMessage delivers one decoded logical message.
	HandleBridgeMessage(msg *codec.LogicalMessage)

	// BridgeUp signals that a bridge connection was (re)established.
	BridgeUp()

	// BridgeDown signals that the bridge connection was lost. All
	// in-flight requests must fail immediately; they are never held for
	// retry.
	BridgeDown()
}

// Endpoint maintains the shared-transport connection.
type Endpoint struct {
	addr           string
	reconnectDelay time.Duration
	handler        Handler
	logger         *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	sendCh chan [][]byte

	quit chan struct{}
	done chan struct{}
}

// NewEndpoint creates an endpoint that will dial addr. If logger is nil,
// logs go to the standard logger.
func NewEndpoint(addr string, reconnectDelay time.Duration, handler Handler, logger *log.Logger) *Endpoint {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Endpoint{
		addr:           addr,
		reconnectDelay: reconnectDelay,
		handler:        handler,
		logger:         logger,
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the connect/read loop.
func (e *Endpoint) Start() {
	go e.run()
}

// Stop closes the current connection and terminates the loop.
func (e *Endpoint) Stop() {
	close(e.quit)
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.mu.Unlock()
	<-e.done
}

// Connected reports whether a bridge connection is currently established.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Send encodes one logical message and queues its frames for the writer
// goroutine. Never blocks: returns transport.unavailable when no connection
// is up or the send queue is full. Write errors surface asynchronously as
// BridgeDown from the read loop.
func (e *Endpoint) Send(msg *codec.LogicalMessage) error {
	frames, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	ch := e.sendCh
	e.mu.Unlock()
	if ch == nil {
		return apperrors.New(apperrors.CodeTransportUnavailable, "extension bridge not connected")
	}

	select {
	case ch <- frames:
		return nil
	default:
		return apperrors.New(apperrors.CodeTransportUnavailable, "bridge send queue full")
	}
}

// run dials the bridge on a fixed backoff, then serves the connection
// until it fails, forever.
func (e *Endpoint) run() {
	defer close(e.done)

	for {
		conn, err := e.dial()
		if err != nil {
			return // shutdown
		}

		sendCh := make(chan [][]byte, sendQueueSize)
		connDone := make(chan struct{})
		e.mu.Lock()
		e.conn = conn
		e.sendCh = sendCh
		e.mu.Unlock()
		e.logger.Printf("transport: connected to bridge at %s", e.addr)
		e.handler.BridgeUp()

		go e.writeLoop(conn, sendCh, connDone)
		e.serve(conn)

		e.mu.Lock()
		e.conn = nil
		e.sendCh = nil
		e.mu.Unlock()
		close(connDone)
		e.handler.BridgeDown()

		select {
		case <-e.quit:
			return
		default:
		}
		e.logger.Printf("transport: bridge connection lost, reconnecting every %s", e.reconnectDelay)
	}
}

// dial attempts connections on a constant backoff until one succeeds or
// the endpoint stops.
func (e *Endpoint) dial() (net.Conn, error) {
	var conn net.Conn
	operation := func() error {
		select {
		case <-e.quit:
			return backoff.Permanent(errStopped)
		default:
		}

		c, err := net.DialTimeout("tcp", e.addr, dialTimeout)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	// Constant interval, no exponential growth.
	if err := backoff.Retry(operation, backoff.NewConstantBackOff(e.reconnectDelay)); err != nil {
		return nil, err
	}
	return conn, nil
}

// writeLoop drains the send queue onto the connection. Each write carries a
// deadline so a peer that stops reading cannot hold the queue forever; a
// write failure closes the connection, which ends the read loop as well.
func (e *Endpoint) writeLoop(conn net.Conn, sendCh chan [][]byte, connDone chan struct{}) {
	for {
		select {
		case frames := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			for _, frame := range frames {
				if _, err := conn.Write(frame); err != nil {
					if !errors.Is(err, net.ErrClosed) {
						e.logger.Printf("transport: write error: %v", err)
					}
					conn.Close()
					return
				}
			}
		case <-connDone:
			return
		}
	}
}

// serve reads and decodes the stream until the connection fails. A decode
// error is a channel fault: the whole connection is dropped and partial
// reassembly state discarded, per the framing contract.
func (e *Endpoint) serve(conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, derr := decoder.Feed(buf[:n])
			for _, msg := range msgs {
				e.handler.HandleBridgeMessage(msg)
			}
			if derr != nil {
				e.logger.Printf("transport: decode fault, dropping connection: %v", derr)
				decoder.Reset()
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				e.logger.Printf("transport: read error: %v", err)
			}
			return
		}
	}
}
