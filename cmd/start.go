package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tabremote/relay/internal/auth"
	"github.com/tabremote/relay/internal/config"
	"github.com/tabremote/relay/internal/mdns"
	"github.com/tabremote/relay/internal/relay"
	"github.com/tabremote/relay/internal/server"
	"github.com/tabremote/relay/internal/storage"
	"github.com/tabremote/relay/internal/transport"
)

// StartConfig holds the flag values for the start command.
type StartConfig struct {
	Config      string
	Addr        string
	BridgeAddr  string
	DB          string
	RequireAuth bool
	Mdns        bool
	Name        string
}

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &StartConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.tabremote/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address for client WebSocket connections (default: 127.0.0.1:9223)")
	fs.StringVar(&cfg.BridgeAddr, "bridge-addr", "", "Address of the extension bridge (default: 127.0.0.1:9224)")
	fs.StringVar(&cfg.DB, "db", "", "Path to SQLite database (default: ~/.tabremote/tabremote.db)")
	fs.BoolVar(&cfg.RequireAuth, "require-auth", false, "Require a pairing token for client connections")
	fs.BoolVar(&cfg.Mdns, "mdns", false, "Advertise the relay via mDNS (LAN-visible)")
	fs.StringVar(&cfg.Name, "name", "", "Instance name for mDNS advertisement (default: hostname)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tabremote start [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// First run with no explicit config: seed the default file so the
	// relay comes up LAN-ready with auth required.
	if cfg.Config == "" {
		created, err := seedDefaultConfig()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to create config file: %v\n", err)
			return 1
		}
		if created != "" {
			fmt.Fprintf(stdout, "Created config: %s\n", created)
		}
	}

	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags win over file values.
	if cfg.Addr != "" {
		fileCfg.Addr = cfg.Addr
	}
	if cfg.BridgeAddr != "" {
		fileCfg.BridgeAddr = cfg.BridgeAddr
	}
	if cfg.DB != "" {
		fileCfg.DB = cfg.DB
	}
	if cfg.RequireAuth {
		fileCfg.RequireAuth = true
	}
	if cfg.Mdns {
		fileCfg.MdnsEnabled = true
	}
	fileCfg.Apply()
	if err := fileCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	logger := newLogger(fileCfg.LogLevel, stderr)

	store, err := storage.NewSQLiteStore(fileCfg.DB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	archive := storage.NewArchive(store, logger)
	defer archive.Close()

	var validateToken server.TokenValidator
	if fileCfg.RequireAuth {
		mgr := auth.NewManager(store)
		validateToken = mgr.ValidateToken
		logger.Printf("start: authentication required")
	}

	router := relay.NewRouter(nil, relay.Options{
		SessionLogEntries: fileCfg.SessionLogEntries,
		RequestDeadline:   time.Duration(fileCfg.RequestDeadlineMs) * time.Millisecond,
		Archive:           archive,
		Logger:            logger,
	})

	endpoint := transport.NewEndpoint(
		fileCfg.BridgeAddr,
		time.Duration(fileCfg.ReconnectDelayMs)*time.Millisecond,
		router,
		logger,
	)
	router.SetBridge(endpoint)

	srv := server.New(router, server.Options{
		Addr:           fileCfg.Addr,
		DefaultTimeout: time.Duration(fileCfg.SessionTimeoutMs) * time.Millisecond,
		MinTimeout:     time.Duration(fileCfg.SessionTimeoutMinMs) * time.Millisecond,
		MaxTimeout:     time.Duration(fileCfg.SessionTimeoutMaxMs) * time.Millisecond,
		ValidateToken:  validateToken,
		Logger:         logger,
	})

	router.Start()
	endpoint.Start()
	if err := srv.Start(); err != nil {
		endpoint.Stop()
		router.Stop()
		fmt.Fprintf(stderr, "Error: failed to start server: %v\n", err)
		return 1
	}

	logger.Printf("start: listening on %s, bridge at %s", srv.Addr(), fileCfg.BridgeAddr)

	var advertiser *mdns.Advertiser
	if fileCfg.MdnsEnabled {
		port, err := listenPort(srv.Addr())
		if err != nil {
			logger.Printf("start: mdns disabled: %v", err)
		} else {
			advertiser = mdns.NewAdvertiser(mdns.Config{
				Port:         port,
				Name:         cfg.Name,
				AuthRequired: fileCfg.RequireAuth,
			})
			if err := advertiser.Start(); err != nil {
				logger.Printf("start: mdns advertisement failed: %v", err)
				advertiser = nil
			} else {
				logger.Printf("start: advertising via mDNS as %s", mdns.ServiceType)
			}
		}
	}

	// Block until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("start: received %v, shutting down", sig)

	if advertiser != nil {
		advertiser.Stop()
	}
	if err := srv.Stop(); err != nil {
		logger.Printf("start: server shutdown: %v", err)
	}
	endpoint.Stop()
	router.Stop()

	fmt.Fprintln(stdout, "tabremote stopped")
	return 0
}

// seedDefaultConfig creates the default config file when none exists yet.
// Returns the created path, or "" when the file was already there.
func seedDefaultConfig() (string, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return "", nil
	}
	if err := config.WriteDefault(path); err != nil {
		return "", err
	}
	return path, nil
}

// newLogger builds the operational logger for the configured level. Levels
// warn and error silence routine output; debug adds source locations.
func newLogger(level string, w io.Writer) *log.Logger {
	flags := log.LstdFlags
	switch level {
	case "debug":
		flags |= log.Lmicroseconds | log.Lshortfile
	case "warn", "error":
		w = io.Discard
	}
	return log.New(w, "", flags)
}
