package transport

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tabremote/relay/internal/codec"
	apperrors "github.com/tabremote/relay/internal/errors"
)

// recordingHandler captures endpoint upcalls for assertions.
type recordingHandler struct {
	mu       sync.Mutex
	messages []*codec.LogicalMessage
	ups      int
	downs    int
}

func (h *recordingHandler) HandleBridgeMessage(msg *codec.LogicalMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
}

func (h *recordingHandler) BridgeUp() {
	h.mu.Lock()
	h.ups++
	h.mu.Unlock()
}

func (h *recordingHandler) BridgeDown() {
	h.mu.Lock()
	h.downs++
	h.mu.Unlock()
}

func (h *recordingHandler) counts() (ups, downs, msgs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ups, h.downs, len(h.messages)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeBridgeServer is a minimal extension-bridge stand-in: one TCP
// listener that frames logical messages with the relay codec.
type fakeBridgeServer struct {
	t        *testing.T
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
}

func newFakeBridgeServer(t *testing.T) *fakeBridgeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeBridgeServer{t: t, listener: l}
	t.Cleanup(func() { l.Close() })
	go s.acceptLoop()
	return s
}

func (s *fakeBridgeServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	}
}

func (s *fakeBridgeServer) addr() string {
	return s.listener.Addr().String()
}

func (s *fakeBridgeServer) current() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *fakeBridgeServer) send(msg *codec.LogicalMessage) {
	s.t.Helper()
	frames, err := codec.Encode(msg)
	if err != nil {
		s.t.Fatalf("encode: %v", err)
	}
	conn := s.current()
	if conn == nil {
		s.t.Fatal("no bridge connection")
	}
	for _, f := range frames {
		if _, err := conn.Write(f); err != nil {
			s.t.Fatalf("bridge write: %v", err)
		}
	}
}

// readMessage decodes one logical message arriving at the bridge side.
func (s *fakeBridgeServer) readMessage() *codec.LogicalMessage {
	s.t.Helper()
	conn := s.current()
	if conn == nil {
		s.t.Fatal("no bridge connection")
	}
	decoder := codec.NewDecoder()
	buf := make([]byte, 64*1024)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, derr := decoder.Feed(buf[:n])
			if derr != nil {
				s.t.Fatalf("bridge decode: %v", derr)
			}
			if len(msgs) > 0 {
				return msgs[0]
			}
		}
		if err != nil {
			if err == io.EOF {
				s.t.Fatal("bridge connection closed while reading")
			}
			s.t.Fatalf("bridge read: %v", err)
		}
	}
}

func startEndpoint(t *testing.T, addr string, h Handler) *Endpoint {
	t.Helper()
	e := NewEndpoint(addr, 20*time.Millisecond, h, log.New(io.Discard, "", 0))
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestEndpoint_ConnectAndRoundTrip(t *testing.T) {
	bridge := newFakeBridgeServer(t)
	h := &recordingHandler{}
	e := startEndpoint(t, bridge.addr(), h)

	waitFor(t, "connection", e.Connected)
	waitFor(t, "BridgeUp", func() bool { ups, _, _ := h.counts(); return ups == 1 })

	// Relay -> bridge
	err := e.Send(&codec.LogicalMessage{
		Type:      codec.MessageCommand,
		SessionID: "s1",
		RequestID: "r1",
		Action:    "tabs.list",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	got := bridge.readMessage()
	if got.Type != codec.MessageCommand || got.RequestID != "r1" {
		t.Errorf("bridge received %+v", got)
	}

	// Bridge -> relay
	bridge.send(&codec.LogicalMessage{
		Type:      codec.MessageResponse,
		SessionID: "s1",
		RequestID: "r1",
		Result:    json.RawMessage(`{"tabs":[]}`),
	})
	waitFor(t, "response upcall", func() bool { _, _, msgs := h.counts(); return msgs == 1 })
}

func TestEndpoint_SendWithoutConnection(t *testing.T) {
	// Dial a port nobody listens on; Send must fail fast with a coded
	// error rather than blocking.
	h := &recordingHandler{}
	e := startEndpoint(t, "127.0.0.1:1", h)

	err := e.Send(&codec.LogicalMessage{Type: codec.MessageCommand})
	if !apperrors.HasCode(err, apperrors.CodeTransportUnavailable) {
		t.Errorf("Send() error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeTransportUnavailable)
	}
}

func TestEndpoint_ReconnectAfterLoss(t *testing.T) {
	bridge := newFakeBridgeServer(t)
	h := &recordingHandler{}
	e := startEndpoint(t, bridge.addr(), h)

	waitFor(t, "first connection", e.Connected)

	// Kill the bridge side; the endpoint must report the loss and then
	// reconnect on its fixed backoff.
	bridge.current().Close()
	waitFor(t, "BridgeDown", func() bool { _, downs, _ := h.counts(); return downs >= 1 })
	waitFor(t, "reconnection", func() bool { ups, _, _ := h.counts(); return ups >= 2 })
	waitFor(t, "connected again", e.Connected)
}

func TestEndpoint_DecodeFaultDropsConnection(t *testing.T) {
	bridge := newFakeBridgeServer(t)
	h := &recordingHandler{}
	e := startEndpoint(t, bridge.addr(), h)

	waitFor(t, "connection", e.Connected)
	first := bridge.current()

	// A frame with an oversized length prefix is a channel fault: the
	// endpoint drops the connection and dials again.
	if _, err := first.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}

	waitFor(t, "BridgeDown after decode fault", func() bool { _, downs, _ := h.counts(); return downs >= 1 })
	waitFor(t, "reconnection", func() bool {
		c := bridge.current()
		return c != nil && c != first && e.Connected()
	})
}

func TestEndpoint_SendNeverBlocksWhenPeerStalls(t *testing.T) {
	bridge := newFakeBridgeServer(t)
	h := &recordingHandler{}
	e := startEndpoint(t, bridge.addr(), h)

	waitFor(t, "connection", e.Connected)

	// The bridge side accepts but never reads. Payloads are sized so the
	// kernel socket buffers fill within a few messages and the writer
	// goroutine stalls. Send must keep returning promptly, rejecting with
	// a coded error once the outbound queue saturates.
	params, _ := json.Marshal(map[string]string{"data": strings.Repeat("a", 64<<10)})
	result := make(chan bool, 1)
	go func() {
		sawQueueFull := false
		for i := 0; i < 2*sendQueueSize; i++ {
			err := e.Send(&codec.LogicalMessage{
				Type:      codec.MessageCommand,
				SessionID: "s1",
				RequestID: "r1",
				Action:    "page.setContent",
				Params:    params,
			})
			if apperrors.HasCode(err, apperrors.CodeTransportUnavailable) {
				sawQueueFull = true
			}
		}
		result <- sawQueueFull
	}()

	select {
	case sawQueueFull := <-result:
		if !sawQueueFull {
			t.Error("queue never saturated, expected rejected sends")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send blocked with a stalled peer")
	}

	// Connected must answer while writes are stalled; a hung Stop would
	// be caught by the cleanup hook.
	connected := make(chan bool, 1)
	go func() { connected <- e.Connected() }()
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("Connected blocked while writes were stalled")
	}
}

func TestEndpoint_OversizedMessageChunksOnTheWire(t *testing.T) {
	bridge := newFakeBridgeServer(t)
	h := &recordingHandler{}
	e := startEndpoint(t, bridge.addr(), h)

	waitFor(t, "connection", e.Connected)

	big, _ := json.Marshal(map[string]string{"data": strings.Repeat("a", 3<<20)})
	if err := e.Send(&codec.LogicalMessage{
		Type:      codec.MessageCommand,
		SessionID: "s1",
		RequestID: "r1",
		Action:    "page.setContent",
		Params:    big,
	}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got := bridge.readMessage()
	if got.RequestID != "r1" || len(got.Params) != len(big) {
		t.Errorf("reassembled %d param bytes, want %d", len(got.Params), len(big))
	}
}
