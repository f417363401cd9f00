package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `tabremote - session relay between automation clients and the browser extension

Usage:
  tabremote <command> [options]

Commands:
  start         Start the relay
  status        Show status of a running relay
  pair          Mint a pairing token for a client
  discover      Find relays advertised on the local network
  token list    List pairing tokens
  token revoke <token-id>  Revoke a pairing token
  session list         List recent sessions
  session log <id>     Show the archived log for a session

Run 'tabremote <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "pair":
		return runPair(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "token":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: tabremote token <list|revoke>")
			return 1
		}
		switch args[2] {
		case "list":
			return runTokenList(args[3:], stdout, stderr)
		case "revoke":
			return runTokenRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown token command: %s\n", args[2])
			return 1
		}
	case "session":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: tabremote session <list|log>")
			return 1
		}
		switch args[2] {
		case "list":
			return runSessionList(args[3:], stdout, stderr)
		case "log":
			return runSessionLog(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown session command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "tabremote %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
