// Command wsprobe is a simple WebSocket test client for tabremote.
// It connects, performs the session handshake, optionally submits one
// command, and prints everything the relay sends back.
//
// Usage:
//
//	go run ./cmd/wsprobe [-url ws://127.0.0.1:9223/ws] [-token T] [-resume ID] [-action tab.list]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:9223/ws", "Relay WebSocket URL")
	token := flag.String("token", "", "Pairing token (when the relay requires auth)")
	resume := flag.String("resume", "", "Session id to resume")
	timeoutMs := flag.Int("timeout-ms", 0, "Requested idle timeout in ms (0 = relay default)")
	action := flag.String("action", "", "Submit one command after the handshake, e.g. tab.list")
	params := flag.String("params", "", "JSON params for the command")
	flag.Parse()

	fmt.Printf("Connecting to %s...\n", *url)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	handshake := map[string]interface{}{}
	if *resume != "" {
		handshake["resumeSessionId"] = *resume
	}
	if *timeoutMs > 0 {
		handshake["timeoutMs"] = *timeoutMs
	}
	if *token != "" {
		handshake["token"] = *token
	}
	if err := conn.WriteJSON(handshake); err != nil {
		fmt.Fprintf(os.Stderr, "Handshake write failed: %v\n", err)
		os.Exit(1)
	}

	var hello map[string]interface{}
	if err := conn.ReadJSON(&hello); err != nil {
		fmt.Fprintf(os.Stderr, "Handshake read failed: %v\n", err)
		os.Exit(1)
	}
	pretty, _ := json.Marshal(hello)
	fmt.Printf("Handshake: %s\n", pretty)
	if hello["type"] == "error" {
		os.Exit(1)
	}

	if *action != "" {
		req := map[string]interface{}{"action": *action}
		if *params != "" {
			req["params"] = json.RawMessage(*params)
		}
		if err := conn.WriteJSON(req); err != nil {
			fmt.Fprintf(os.Stderr, "Command write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Submitted %s\n", *action)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	messageCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}
			messageCount++
			fmt.Printf("[%d] %s\n", messageCount, string(data))
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
