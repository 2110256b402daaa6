package netutil

import "golang.org/x/sys/unix"

// applyAcceptedSocketOptions tunes a freshly accepted client socket.
// TCP_NODELAY disables Nagle's algorithm so a response written in several
// small writes (status line, headers, body) reaches the client without
// waiting on a delayed ACK from a previous segment; this server never
// coalesces multiple requests onto one connection, so there is nothing for
// Nagle's batching to help with the scope.
func applyAcceptedSocketOptions(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
