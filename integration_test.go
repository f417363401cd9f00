//go:build integration
// +build integration

package integration_test

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabremote/relay/internal/codec"
)

var (
	binaryPath string
	moduleDir  string
)

func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get working dir: %v\n", err)
		os.Exit(1)
	}
	moduleDir = wd

	tmpDir, err := os.MkdirTemp("", "tabremote-integration-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "tabremote")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd")
	build.Dir = moduleDir
	out, err := build.CombinedOutput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build tabremote: %v\n%s", err, out)
		_ = os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(tmpDir)
	os.Exit(code)
}

// fakeExtensionBridge is a TCP listener that speaks the framed transport
// and echoes every command back as a successful response.
type fakeExtensionBridge struct {
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
}

func startFakeBridge(t *testing.T) *fakeExtensionBridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bridge listen: %v", err)
	}
	b := &fakeExtensionBridge{listener: ln}
	go b.serve()
	t.Cleanup(func() { ln.Close() })
	return b
}

func (b *fakeExtensionBridge) addr() string {
	return b.listener.Addr().String()
}

func (b *fakeExtensionBridge) serve() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		go b.handle(conn)
	}
}

func (b *fakeExtensionBridge) handle(conn net.Conn) {
	defer conn.Close()

	b.send(conn, &codec.LogicalMessage{Type: codec.MessageReady})

	decoder := codec.NewDecoder()
	buf := make([]byte, 64<<10)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msgs, err := decoder.Feed(buf[:n])
		if err != nil {
			return
		}
		for _, msg := range msgs {
			if msg.Type != codec.MessageCommand {
				continue
			}
			b.send(conn, &codec.LogicalMessage{
				Type:      codec.MessageResponse,
				SessionID: msg.SessionID,
				RequestID: msg.RequestID,
				Result:    json.RawMessage(fmt.Sprintf(`{"echoedAction":%q}`, msg.Action)),
			})
		}
	}
}

func (b *fakeExtensionBridge) send(conn net.Conn, msg *codec.LogicalMessage) {
	frames, err := codec.Encode(msg)
	if err != nil {
		return
	}
	for _, frame := range frames {
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// freePort reserves an ephemeral port and releases it for the relay.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startRelay launches the binary and waits for /healthz to answer.
func startRelay(t *testing.T, addr, bridgeAddr string) *exec.Cmd {
	t.Helper()

	db := filepath.Join(t.TempDir(), "relay.db")
	cmd := exec.Command(binaryPath, "start",
		"--addr", addr,
		"--bridge-addr", bridgeAddr,
		"--db", db,
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Signal(syscall.SIGTERM)
		cmd.Wait()
	})

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			return cmd
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("relay did not become healthy")
	return nil
}

func dialRelay(t *testing.T, addr string, handshake map[string]interface{}) (*websocket.Conn, map[string]interface{}) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	if err := conn.WriteJSON(handshake); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var hello map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read handshake ack: %v", err)
	}
	return conn, hello
}

func TestCommandRoundTripThroughBinary(t *testing.T) {
	bridge := startFakeBridge(t)
	addr := freePort(t)
	startRelay(t, addr, bridge.addr())

	conn, hello := dialRelay(t, addr, map[string]interface{}{})
	defer conn.Close()

	sessionID, _ := hello["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("handshake ack missing sessionId: %v", hello)
	}

	req := map[string]interface{}{"action": "tab.list", "requestId": "req-1"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write command: %v", err)
	}

	var resp struct {
		RequestID string          `json:"requestId"`
		Result    json.RawMessage `json:"result"`
		Error     *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("requestId = %q, want req-1", resp.RequestID)
	}
	if !strings.Contains(string(resp.Result), "tab.list") {
		t.Errorf("result does not echo action: %s", resp.Result)
	}
}

func TestResumeThroughBinary(t *testing.T) {
	bridge := startFakeBridge(t)
	addr := freePort(t)
	startRelay(t, addr, bridge.addr())

	conn, hello := dialRelay(t, addr, map[string]interface{}{})
	sessionID, _ := hello["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("handshake ack missing sessionId: %v", hello)
	}
	conn.Close()

	// Give the relay a moment to observe the disconnect.
	time.Sleep(200 * time.Millisecond)

	conn2, hello2 := dialRelay(t, addr, map[string]interface{}{"resumeSessionId": sessionID})
	defer conn2.Close()

	if got, _ := hello2["sessionId"].(string); got != sessionID {
		t.Errorf("resumed sessionId = %q, want %q", got, sessionID)
	}
	if resumed, _ := hello2["resumed"].(bool); !resumed {
		t.Errorf("expected resumed flag in ack: %v", hello2)
	}
}

func TestStatusThroughBinary(t *testing.T) {
	bridge := startFakeBridge(t)
	addr := freePort(t)
	startRelay(t, addr, bridge.addr())

	out, err := exec.Command(binaryPath, "status", "--addr", addr).CombinedOutput()
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "Bridge: connected") {
		t.Errorf("expected connected bridge in status output:\n%s", out)
	}
}
