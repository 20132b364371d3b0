//go:build linux

package server

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// createSocket opens a TCP listening socket bound to addr with the
// configured socket options applied. The raw unix path is used (rather than
// net.Listen) so that the accept backlog and address-reuse policy from the
// configuration actually reach the kernel.
func createSocket(addr *net.TCPAddr, cfg Config) (net.Listener, error) {
	ipv6 := addr.IP.To4() == nil && addr.IP != nil

	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, socketErr(addr, err)
	}

	if !cfg.ExclusiveAddressUse {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return nil, socketErr(addr, err)
		}
	}

	if ipv6 && cfg.AllowNATTraversal {
		// Dual-stack listener; the closest unix analog to the Windows-era
		// NAT traversal (Teredo) option this maps from.
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			unix.Close(fd)
			return nil, socketErr(addr, err)
		}
	}

	if err := unix.Bind(fd, sockaddrFromTCPAddr(addr, ipv6)); err != nil {
		unix.Close(fd)
		return nil, socketErr(addr, err)
	}

	if err := unix.Listen(fd, cfg.PendingConnectionBacklog); err != nil {
		unix.Close(fd)
		return nil, socketErr(addr, err)
	}

	// net.FileListener dups the descriptor, so the os.File wrapper must be
	// closed to avoid leaking the original.
	f := os.NewFile(uintptr(fd), "listener")
	defer f.Close()

	listener, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("error wrapping listener fd: %w", err)
	}
	return listener, nil
}

// pendingConnection polls the listener's descriptor to report whether a
// connection is queued for acceptance without consuming it.
func pendingConnection(listener net.Listener) (bool, error) {
	sc, ok := listener.(syscall.Conn)
	if !ok {
		return false, fmt.Errorf("listener does not expose its descriptor")
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("error obtaining raw listener: %w", err)
	}

	var (
		ready   bool
		pollErr error
	)
	ctrlErr := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil {
			pollErr = err
			return
		}
		ready = n > 0 && fds[0].Revents&unix.POLLIN != 0
	})

	if ctrlErr != nil {
		return false, fmt.Errorf("error polling listener: %w", ctrlErr)
	}
	if pollErr != nil {
		return false, fmt.Errorf("error polling listener: %w", pollErr)
	}
	return ready, nil
}

func sockaddrFromTCPAddr(addr *net.TCPAddr, ipv6 bool) unix.Sockaddr {
	if ipv6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To16())
		return sa
	}

	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	return sa
}

// socketErr wraps raw socket errors in a net.OpError so that all failures
// of the transport class are represented uniformly to the error taxonomy.
func socketErr(addr *net.TCPAddr, err error) error {
	return &net.OpError{Op: "listen", Net: "tcp", Addr: addr, Err: err}
}
