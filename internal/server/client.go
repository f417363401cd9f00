package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tabremote/relay/internal/codec"
	apperrors "github.com/tabremote/relay/internal/errors"
	"github.com/tabremote/relay/internal/relay"
	"golang.org/x/time/rate"
)

// Client is one attached WebSocket connection, bound to exactly one
// session for its lifetime. It implements session.Conn for the router.
type Client struct {
	server *Server
	conn   *websocket.Conn

	// sessionID is assigned during the handshake and never changes.
	sessionID string

	// send carries outbound messages to the write pump.
	send chan []byte

	// done signals shutdown to the write pump.
	done     chan struct{}
	sendOnce sync.Once

	// limiter throttles inbound commands to protect the shared transport.
	limiter *rate.Limiter
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		server:  s,
		conn:    conn,
		send:    make(chan []byte, channelBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(commandRatePerSecond), commandRateBurst),
	}
}

// SendJSON queues a message for delivery without blocking the router. A
// client that cannot drain channelBufferSize messages is disconnected
// rather than allowed to stall every other session.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "marshal outbound message", err)
	}

	select {
	case <-c.done:
		return apperrors.New(apperrors.CodeServerSendFailed, "connection closed")
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.server.logger.Printf("server: session %s send buffer full, disconnecting", c.sessionID)
		c.CloseNow()
		return apperrors.New(apperrors.CodeServerSendFailed, "send buffer full")
	}
}

// CloseNow signals the write pump to shut the connection down. Safe to
// call multiple times from different goroutines; only the done channel is
// closed here to avoid racing in-flight sends.
func (c *Client) CloseNow() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// writePump drains the send channel to the WebSocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Flush whatever is already queued before the close frame so
			// terminal responses (cancellations, close confirmations) are
			// not lost.
			for {
				select {
				case data := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Printf("server: write to session %s failed: %v", c.sessionID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands and forwards them to the router. Its exit
// is the single place a disconnect is detected and reported.
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.CloseNow()
		c.server.router.Disconnect(c.sessionID, c)
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.server.logger.Printf("server: read error on session %s: %v", c.sessionID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var req relay.ClientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.SendJSON(errorFrame{Type: "error", Error: errorBody{
				Code:    apperrors.CodeServerInvalidMessage,
				Message: "request not parseable",
			}})
			continue
		}
		if req.Action == "" {
			c.SendJSON(&relay.ClientResponse{
				RequestID: req.RequestID,
				Error:     &codec.ErrorInfo{Code: apperrors.CodeServerInvalidMessage, Message: "action required"},
			})
			continue
		}

		if !c.limiter.Allow() {
			// Answer with a structured error; the request never reaches
			// the router, so no pending entry exists to leak.
			c.SendJSON(&relay.ClientResponse{
				RequestID: req.RequestID,
				Error:     &codec.ErrorInfo{Code: apperrors.CodeRequestRateLimited, Message: "too many commands"},
			})
			continue
		}

		c.server.router.Dispatch(c.sessionID, req)
	}
}
