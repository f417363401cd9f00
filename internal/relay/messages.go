// Package relay implements the router: the control plane that assigns and
// resumes sessions, forwards client commands over the shared transport,
// correlates replies and events back to the owning session, and runs the
// timeout sweep.
package relay

import (
	"encoding/json"

	"github.com/tabremote/relay/internal/codec"
)

// Lifecycle actions the router answers locally without touching the shared
// transport. Every other action name is opaque to the relay and forwarded
// verbatim to the extension bridge.
const (
	ActionSessionClose  = "session.close"
	ActionSessionStatus = "session.status"
)

// ClientRequest is a command received from a client connection.
type ClientRequest struct {
	// Action names the automation command. Opaque to the relay except for
	// the lifecycle actions above.
	Action string `json:"action"`

	// Params is the opaque command argument object.
	Params json.RawMessage `json:"params,omitempty"`

	// RequestID correlates the eventual response. Generated by the relay
	// when the client omits it.
	RequestID string `json:"requestId,omitempty"`
}

// ClientResponse is the terminal reply for one client request. Exactly one
// ClientResponse is produced per accepted request: a real result, a
// synthesized timeout, or a synthesized cancellation.
type ClientResponse struct {
	RequestID string           `json:"requestId"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *codec.ErrorInfo `json:"error"`
}

// ClientEvent is an unsolicited message pushed to a client connection:
// asynchronous browser/tab notifications or extension log lines.
type ClientEvent struct {
	Type      string          `json:"type"` // "event" or "log"
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionStatus is the result payload for the session.status lifecycle
// action.
type SessionStatus struct {
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	CreatedAt    string `json:"createdAt"`
	ExpiresAt    string `json:"expiresAt"`
	TimeoutMs    int64  `json:"timeoutMs"`
	PendingCount int    `json:"pendingCount"`
	LogLength    int    `json:"logLength"`
}

// Stats is a point-in-time snapshot of router state for the health surface.
type Stats struct {
	Sessions        int  `json:"sessions"`
	ActiveSessions  int  `json:"activeSessions"`
	PendingRequests int  `json:"pendingRequests"`
	BridgeConnected bool `json:"bridgeConnected"`
	BridgeReady     bool `json:"bridgeReady"`
}
