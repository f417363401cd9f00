package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/tabremote/relay/internal/mdns"
)

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse for relays")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tabremote discover [options]\n\nBrowse the local network for advertised relays.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Fprintf(stderr, "Browsing for %s services...\n", mdns.ServiceType)
	relays, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(relays) == 0 {
		fmt.Fprintln(stdout, "No relays found. They advertise only when started with --mdns.")
		return 0
	}

	fmt.Fprintf(stdout, "%-24s  %-22s  %-8s  %s\n", "NAME", "ADDRESS", "VERSION", "AUTH")
	for _, r := range relays {
		fmt.Fprintf(stdout, "%-24s  %-22s  %-8s  %s\n",
			r.Name, fmt.Sprintf("%s:%d", r.Host, r.Port), r.Version, r.Auth)
	}
	return 0
}
