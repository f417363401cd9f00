package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"

	"github.com/skip2/go-qrcode"

	"github.com/tabremote/relay/internal/auth"
	"github.com/tabremote/relay/internal/config"
	"github.com/tabremote/relay/internal/storage"
)

// PairConfig holds configuration for the pair command.
type PairConfig struct {
	Config string
	DB     string
	Name   string
	Addr   string
	QR     bool
}

func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &PairConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.tabremote/config.toml)")
	fs.StringVar(&cfg.DB, "db", "", "Path to SQLite database (default: ~/.tabremote/tabremote.db)")
	fs.StringVar(&cfg.Name, "name", "client", "Name identifying the paired client")
	fs.StringVar(&cfg.Addr, "addr", "", "Relay address to embed in the pairing info (default: detected LAN address)")
	fs.BoolVar(&cfg.QR, "qr", false, "Display pairing information as QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tabremote pair [options]\n\nMint a pairing token for a client.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe token is shown once and stored only as a hash.\n")
		fmt.Fprintf(stderr, "Clients present it in the connection handshake when the relay runs with --require-auth.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.DB != "" {
		fileCfg.DB = cfg.DB
	}
	fileCfg.Apply()

	store, err := storage.NewSQLiteStore(fileCfg.DB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	rec, token, err := auth.NewManager(store).MintToken(cfg.Name)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	addr := cfg.Addr
	if addr == "" {
		addr = displayAddr(fileCfg.Addr)
	}

	if cfg.QR {
		displayTokenQR(stdout, token, rec.ID, addr)
	} else {
		displayToken(stdout, token, rec.ID, addr)
	}
	return 0
}

// displayToken shows the minted token to the user.
func displayToken(w io.Writer, token, id, addr string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING TOKEN")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Token: %s\n", token)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  ID:    %s\n", id)
	fmt.Fprintf(w, "  Relay: %s\n", addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Store this token now; it cannot be recovered later.")
	fmt.Fprintln(w, "  Revoke it with: tabremote token revoke "+id)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// displayTokenQR shows pairing information as a QR code with plain-text
// fallback. The payload uses a URL scheme: tabremote://pair?host=<addr>&token=<token>
func displayTokenQR(w io.Writer, token, id, addr string) {
	payload := fmt.Sprintf("tabremote://pair?host=%s&token=%s",
		url.QueryEscape(addr),
		url.QueryEscape(token))

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		displayToken(w, token, id, addr)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// Compact half-block rendering without a border.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Token: %s\n", token)
	fmt.Fprintf(w, "  ID:    %s\n", id)
	fmt.Fprintf(w, "  Relay: %s\n", addr)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
