//go:build !linux

package server

import (
	"fmt"
	"net"
)

// createSocket opens a TCP listening socket bound to addr. On non-Linux
// platforms the backlog and socket options from the configuration are left
// to the platform defaults.
func createSocket(addr *net.TCPAddr, _ Config) (net.Listener, error) {
	return net.ListenTCP("tcp", addr)
}

// pendingConnection is unavailable without the platform poller.
func pendingConnection(net.Listener) (bool, error) {
	return false, fmt.Errorf("pending connection check is not supported on this platform")
}
