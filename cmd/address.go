// This file centralizes address helpers for the CLI commands.
package main

import (
	"fmt"
	"net"
	"strconv"
)

// listenPort extracts the port from a host:port listen address.
func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return port, nil
}

// displayAddr picks an address reachable from other machines on the LAN.
// Used when rendering pairing info for a remote client. Falls back to the
// listen address when no outbound interface can be determined.
func displayAddr(listenAddr string) string {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	// A wildcard or loopback listen address is useless to a remote
	// client; substitute the preferred outbound IP.
	if host == "" || host == "0.0.0.0" || host == "::" || host == "127.0.0.1" || host == "localhost" {
		if ip := getPreferredOutboundIP(); ip != "" {
			return net.JoinHostPort(ip, portStr)
		}
	}
	return listenAddr
}

// getPreferredOutboundIP returns the local IP the OS would use for
// outbound traffic. Dialing UDP sends no packets; it only selects the
// interface.
func getPreferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
