package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tabremote/relay/internal/config"
)

// statusResponse mirrors the /healthz payload of a running relay.
type statusResponse struct {
	Sessions        int  `json:"sessions"`
	ActiveSessions  int  `json:"activeSessions"`
	PendingRequests int  `json:"pendingRequests"`
	BridgeConnected bool `json:"bridgeConnected"`
	BridgeReady     bool `json:"bridgeReady"`
	Clients         int  `json:"clients"`
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", config.DefaultAddr, "Relay address to query")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tabremote status [options]\n\nShow the current status of a running relay.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	status, err := queryStatus(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nIs the relay running? Start it with: tabremote start\n")
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return 0
	}

	bridge := "disconnected"
	if status.BridgeConnected {
		bridge = "connected"
		if status.BridgeReady {
			bridge = "connected, ready"
		}
	}
	fmt.Fprintf(stdout, "Relay: %s\n", *addr)
	fmt.Fprintf(stdout, "Bridge: %s\n", bridge)
	fmt.Fprintf(stdout, "Clients: %d\n", status.Clients)
	fmt.Fprintf(stdout, "Sessions: %d (%d active)\n", status.Sessions, status.ActiveSessions)
	fmt.Fprintf(stdout, "Pending requests: %d\n", status.PendingRequests)
	return 0
}

func queryStatus(addr string) (*statusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}

	url := fmt.Sprintf("http://%s/healthz", addr)
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to relay at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
