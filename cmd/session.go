package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

func runSessionList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Path to SQLite database")
	limit := fs.Int("limit", 20, "Maximum number of sessions to show")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, code := openStore(*configPath, *dbPath, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	sessions, err := store.ListSessions(*limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions recorded.")
		return 0
	}

	fmt.Fprintf(stdout, "%-36s  %-20s  %-20s  %-10s  %s\n", "ID", "CREATED", "ENDED", "STATE", "TIMEOUT")
	for _, rec := range sessions {
		ended := "-"
		if rec.EndedAt != nil {
			ended = rec.EndedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(stdout, "%-36s  %-20s  %-20s  %-10s  %ds\n",
			rec.ID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			ended,
			rec.State,
			rec.TimeoutMs/1000)
	}
	return 0
}

func runSessionLog(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session log", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Path to SQLite database")
	limit := fs.Int("limit", 0, "Maximum number of entries to show (0 = all)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(stderr, "Usage: tabremote session log <session-id>")
		return 1
	}
	sessionID := remaining[0]

	store, code := openStore(*configPath, *dbPath, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	// Confirm the session exists so a typo gets a clear error instead of
	// an empty log.
	if _, err := store.GetSession(sessionID); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	entries, err := store.GetSessionLog(sessionID, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No log entries for this session.")
		return 0
	}

	for _, entry := range entries {
		arrow := "<-"
		if entry.Direction == "in" {
			arrow = "->"
		}
		fmt.Fprintf(stdout, "%s %s %s\n",
			entry.Timestamp.Format("15:04:05.000"), arrow, entry.Payload)
	}
	return 0
}
