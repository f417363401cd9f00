// Package mdns provides optional mDNS/DNS-SD advertisement of the relay.
//
// When enabled, the relay announces itself on the local network so client
// tooling can find it without manual address entry. Advertisement is
// opt-in; discovery only reveals presence, and pairing tokens are still
// required when authentication is on.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for relay instances.
const ServiceType = "_tabremote._tcp"

// ProtocolVersion identifies the advertised protocol for compatibility.
const ProtocolVersion = "1"

// Config holds advertisement settings.
type Config struct {
	// Port is the client-facing listener port to advertise.
	Port int

	// Name is a human-readable instance name. Defaults to the system
	// hostname if empty.
	Name string

	// AuthRequired tells discovering clients whether a pairing token
	// is needed to connect.
	AuthRequired bool
}

// Advertiser manages the mDNS service registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Safe to call more than once; subsequent
// calls are no-ops while running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "tabremote"
		} else {
			name = hostname
		}
	}

	auth := "open"
	if a.config.AuthRequired {
		auth = "token"
	}

	// TXT records give clients the essentials before they connect.
	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("name=%s", name),
		fmt.Sprintf("auth=%s", auth),
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the advertisement is active.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredRelay is one relay found on the local network.
type DiscoveredRelay struct {
	Name    string
	Host    string
	Port    int
	Version string
	Auth    string
}

// Discover browses the local network for relays until the context ends.
// Used by the discover command.
func Discover(ctx context.Context) ([]DiscoveredRelay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		found []DiscoveredRelay
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			relay := DiscoveredRelay{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				relay.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				relay.Host = entry.AddrIPv6[0].String()
			}
			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "version="):
					relay.Version = strings.TrimPrefix(txt, "version=")
				case strings.HasPrefix(txt, "name="):
					relay.Name = strings.TrimPrefix(txt, "name=")
				case strings.HasPrefix(txt, "auth="):
					relay.Auth = strings.TrimPrefix(txt, "auth=")
				}
			}
			mu.Lock()
			found = append(found, relay)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes the entries channel when the context ends.
	<-ctx.Done()
	wg.Wait()

	return found, nil
}
