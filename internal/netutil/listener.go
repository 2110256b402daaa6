// Package netutil owns the listening-socket lifecycle: create, bind,
// listen and accept on raw IPv4 file descriptors that the event loop can
// register directly in its poll set, bypassing net.Listener (whose fd is
// not cheaply pollable with unix.Poll).
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen creates a non-blocking, SO_REUSEADDR IPv4 TCP listening socket
// bound to host:port. host may be a dotted-quad address or "0.0.0.0"; DNS
// names are resolved to their first IPv4 address.
func Listen(host string, port uint16) (fd int, err error) {
	addr, err := resolveIPv4(host)
	if err != nil {
		return -1, err
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return -1, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("netutil: set nonblocking: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], addr)
	if err := unix.Bind(fd, sa); err != nil {
		return -1, fmt.Errorf("netutil: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return -1, fmt.Errorf("netutil: listen: %w", err)
	}

	ok = true
	return fd, nil
}

// listenBacklog matches the backlog the original implementation passes to
// listen(2).
const listenBacklog = 128

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return out, fmt.Errorf("netutil: cannot resolve host %q", host)
		}
		ip = ips[0]
		for _, cand := range ips {
			if cand.To4() != nil {
				ip = cand
				break
			}
		}
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("netutil: host %q is not an IPv4 address", host)
	}
	copy(out[:], v4)
	return out, nil
}

// Accept accepts one connection on a non-blocking listening fd. It returns
// (-1, false, nil) when no connection is currently pending (EAGAIN), and
// sets the accepted socket non-blocking before returning it.
func Accept(listenFd int) (fd int, ok bool, err error) {
	cfd, _, err := unix.Accept(listenFd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, false, nil
		}
		if err == unix.EINTR {
			return -1, false, nil
		}
		return -1, false, err
	}
	if err := unix.SetNonblock(cfd, true); err != nil {
		unix.Close(cfd)
		return -1, false, err
	}
	applyAcceptedSocketOptions(cfd)
	return cfd, true, nil
}

// PeerAddr returns the textual "ip:port" of the peer on an accepted
// socket, best-effort ("unknown" on failure).
func PeerAddr(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "unknown"
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "unknown"
	}
	ip := net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
	return fmt.Sprintf("%s:%d", ip.String(), in4.Port)
}

// Close closes a raw socket fd.
func Close(fd int) error {
	return unix.Close(fd)
}
