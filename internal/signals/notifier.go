// Package signals bridges os/signal's goroutine-delivered SIGINT/SIGTERM
// into a readable file descriptor the single-threaded event loop can poll
// alongside listening and client sockets.
package signals

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Notifier owns a self-pipe: SIGINT/SIGTERM arrive on a runtime-managed
// goroutine via signal.Notify and are turned into a single byte written to
// the pipe, which the event loop's poll set treats like any other fd.
type Notifier struct {
	readEnd  *os.File // kept alive so its finalizer doesn't close readFd out from under us
	readFd   int
	writeEnd *os.File
	sigCh    chan os.Signal
}

// Install ignores SIGPIPE (writes to a half-closed CGI pipe must surface
// as EPIPE, not kill the process) and starts relaying SIGINT/SIGTERM into
// the self-pipe.
func Install() (*Notifier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	// (*os.File).Fd() forces the fd into blocking mode, and the event loop
	// needs this fd's raw number every poll cycle; take it once here and
	// put it back into non-blocking mode ourselves so a drained, empty pipe
	// never blocks the single-threaded loop on the next Read.
	readFd := int(r.Fd())
	if err := unix.SetNonblock(readFd, true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	n := &Notifier{
		readEnd:  r,
		readFd:   readFd,
		writeEnd: w,
		sigCh:    make(chan os.Signal, 2),
	}
	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(n.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go n.relay()
	return n, nil
}

func (n *Notifier) relay() {
	for range n.sigCh {
		n.writeEnd.Write([]byte{1})
	}
}

// Fd is the read end of the self-pipe, registered for POLLIN in the event
// loop's poll set.
func (n *Notifier) Fd() int { return n.readFd }

// Drain consumes and discards every byte currently queued on the self-pipe
// after it becomes readable, stopping at EAGAIN instead of blocking once
// the pipe runs dry.
func (n *Notifier) Drain() {
	var buf [64]byte
	for {
		k, err := unix.Read(n.readFd, buf[:])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if k <= 0 || err != nil {
			return
		}
	}
}

// Close releases both ends of the self-pipe and stops relaying signals.
func (n *Notifier) Close() error {
	signal.Stop(n.sigCh)
	close(n.sigCh)
	n.writeEnd.Close()
	return n.readEnd.Close()
}
