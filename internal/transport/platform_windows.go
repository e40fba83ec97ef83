//go:build windows
// +build windows

package transport

import (
	"fmt"
	"net"
	"time"
)

// listenStream creates a TCP listener (Windows)
// Windows doesn't support Unix domain sockets reliably, so addresses are
// localhost TCP host:port pairs.
func listenStream(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return listener, nil
}

// dialStream connects to a peer over TCP (Windows)
func dialStream(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, time.Second)
}

// cleanupSocket is a no-op for TCP listeners
func cleanupSocket(addr string) error { return nil }

// streamAddress returns the address string for logging
func streamAddress(addr string) string {
	return addr + " (TCP localhost - Windows mode)"
}
