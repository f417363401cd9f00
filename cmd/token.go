package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/tabremote/relay/internal/auth"
	"github.com/tabremote/relay/internal/config"
	"github.com/tabremote/relay/internal/storage"
)

// openStore loads the config and opens the SQLite database for the local
// management commands (token, session).
func openStore(configPath, dbPath string, stderr io.Writer) (*storage.SQLiteStore, int) {
	fileCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	if dbPath != "" {
		fileCfg.DB = dbPath
	}
	fileCfg.Apply()

	store, err := storage.NewSQLiteStore(fileCfg.DB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return nil, 1
	}
	return store, 0
}

func runTokenList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Path to SQLite database")

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

	tokens, err := store.ListTokens()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(tokens) == 0 {
		fmt.Fprintln(stdout, "No tokens. Mint one with: tabremote pair")
		return 0
	}

	fmt.Fprintf(stdout, "%-36s  %-20s  %-20s  %s\n", "ID", "NAME", "CREATED", "STATUS")
	for _, rec := range tokens {
		status := "active"
		if rec.Revoked {
			status = "revoked"
		}
		fmt.Fprintf(stdout, "%-36s  %-20s  %-20s  %s\n",
			rec.ID, rec.Name, rec.CreatedAt.Format("2006-01-02 15:04:05"), status)
	}
	return 0
}

func runTokenRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Path to SQLite database")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(stderr, "Usage: tabremote token revoke <token-id>")
		return 1
	}
	id := remaining[0]

	store, code := openStore(*configPath, *dbPath, stderr)
	if store == nil {
		return code
	}
	defer store.Close()

	if err := auth.NewManager(store).Revoke(id); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			fmt.Fprintf(stderr, "Error: no token with id %s\n", id)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	fmt.Fprintf(stdout, "Token %s revoked\n", id)
	return 0
}
