//go:build !windows
// +build !windows

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// listenStream creates a Unix domain socket listener (Linux/macOS)
func listenStream(socketPath string) (net.Listener, error) {
	if err := cleanupSocket(socketPath); err != nil {
		return nil, fmt.Errorf("cleanup socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}

	if err := os.Chmod(socketPath, 0666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return listener, nil
}

// dialStream connects to a peer's Unix domain socket
func dialStream(socketPath string) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, time.Second)
}

// cleanupSocket removes a stale socket file
func cleanupSocket(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// streamAddress returns the address string for logging
func streamAddress(socketPath string) string {
	return socketPath
}
