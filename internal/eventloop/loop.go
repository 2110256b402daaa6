// Package eventloop drives every listening, client and CGI auxiliary
// descriptor from a single poll(2) call per cycle. That call, bounded to a
// 1 second tick so timeout sweeps and shutdown progress keep moving even
// with no I/O, is the only blocking point apart from the short accept
// back-off sleep after EMFILE/ENFILE.
package eventloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/conn"
	"github.com/yourusername/webserv/internal/logging"
	"github.com/yourusername/webserv/internal/netutil"
	"github.com/yourusername/webserv/internal/signals"
)

// pollTickMs bounds how long a poll(2) call may block, so the timeout
// sweeper and the shutdown check always get a turn even when nothing is
// ready.
const pollTickMs = 1000

// acceptBackoff is how long the accept loop sleeps after EMFILE/ENFILE,
// giving the process a chance for descriptors to free up.
const acceptBackoff = 20 * time.Millisecond

type listenerEntry struct {
	fd    int
	group []*config.ServerConfig
	key   string
}

type auxEntry struct {
	owner     *conn.Connection
	wantRead  bool
	wantWrite bool
}

// Loop owns every descriptor the server touches: listening sockets,
// accepted client connections, CGI auxiliary pipes and the shutdown
// notifier.
type Loop struct {
	listeners []*listenerEntry
	conns     map[int]*conn.Connection
	aux       map[int]*auxEntry
	notifier  *signals.Notifier
	log       *logging.Logger

	shuttingDown   bool
	listenersShut  bool
}

// New binds a listening socket for every BindGroup in cfg and returns a
// Loop ready to Run.
func New(cfg *config.Config, notifier *signals.Notifier, log *logging.Logger) (*Loop, error) {
	l := &Loop{
		conns:    map[int]*conn.Connection{},
		aux:      map[int]*auxEntry{},
		notifier: notifier,
		log:      log,
	}
	for _, group := range cfg.BindGroups() {
		srv := group.Default()
		fd, err := netutil.Listen(srv.Host, srv.Port)
		if err != nil {
			l.closeListeners()
			return nil, err
		}
		l.listeners = append(l.listeners, &listenerEntry{fd: fd, group: group.Servers, key: group.Key})
	}
	return l, nil
}

func (l *Loop) closeListeners() {
	for _, le := range l.listeners {
		netutil.Close(le.fd)
	}
}

// RegisterAux implements conn.AuxRegistrar.
func (l *Loop) RegisterAux(fd int, owner *conn.Connection, wantRead, wantWrite bool) bool {
	l.aux[fd] = &auxEntry{owner: owner, wantRead: wantRead, wantWrite: wantWrite}
	return true
}

// UpdateAux implements conn.AuxRegistrar.
func (l *Loop) UpdateAux(fd int, wantRead, wantWrite bool) {
	if e, ok := l.aux[fd]; ok {
		e.wantRead, e.wantWrite = wantRead, wantWrite
	}
}

// UnregisterAux implements conn.AuxRegistrar. Unregistering an fd that was
// never registered (or already removed) is a harmless no-op, since both
// Connection.Close and the CGI finish/abort paths may each try to
// unregister the same descriptor once.
func (l *Loop) UnregisterAux(fd int) {
	delete(l.aux, fd)
}

// Run executes the cycle described by the server's concurrency model:
// poll, sweep timeouts, refresh interest, dispatch readiness, check for a
// finished shutdown.
func (l *Loop) Run() error {
	for {
		fds, index := l.buildPollSet()

		_, err := unix.Poll(fds, pollTickMs)
		if err != nil && err != unix.EINTR {
			return err
		}

		now := time.Now().UnixMilli()
		l.sweepTimeouts(now)

		l.dispatchReady(fds, index)

		if l.shuttingDown && len(l.conns) == 0 {
			return nil
		}
	}
}

type fdKind int

const (
	kindNotifier fdKind = iota
	kindListener
	kindConn
	kindAux
)

type fdIndex struct {
	kind fdKind
	le   *listenerEntry
	c    *conn.Connection
	fd   int
}

func (l *Loop) buildPollSet() ([]unix.PollFd, []fdIndex) {
	var fds []unix.PollFd
	var index []fdIndex

	fds = append(fds, unix.PollFd{Fd: int32(l.notifier.Fd()), Events: unix.POLLIN})
	index = append(index, fdIndex{kind: kindNotifier})

	if !l.listenersShut {
		for _, le := range l.listeners {
			fds = append(fds, unix.PollFd{Fd: int32(le.fd), Events: unix.POLLIN})
			index = append(index, fdIndex{kind: kindListener, le: le})
		}
	}

	for fd, c := range l.conns {
		var events int16
		if c.WantRead() {
			events |= unix.POLLIN
		}
		if c.WantWrite() {
			events |= unix.POLLOUT
		}
		if events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		index = append(index, fdIndex{kind: kindConn, c: c, fd: fd})
	}

	for fd, e := range l.aux {
		var events int16
		if e.wantRead {
			events |= unix.POLLIN
		}
		if e.wantWrite {
			events |= unix.POLLOUT
		}
		if events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		index = append(index, fdIndex{kind: kindAux, fd: fd})
	}

	return fds, index
}

func (l *Loop) sweepTimeouts(now int64) {
	for fd, c := range l.conns {
		if !c.CheckTimeouts(now) {
			c.Close()
			delete(l.conns, fd)
		}
	}
}

func (l *Loop) dispatchReady(fds []unix.PollFd, index []fdIndex) {
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		entry := index[i]
		readable := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		writable := pfd.Revents&unix.POLLOUT != 0

		switch entry.kind {
		case kindNotifier:
			l.notifier.Drain()
			l.beginShutdown()
		case kindListener:
			l.acceptLoop(entry.le)
		case kindAux:
			aux, ok := l.aux[entry.fd]
			if !ok {
				continue
			}
			if !aux.owner.OnAuxEvent(entry.fd, readable, writable) {
				fd := aux.owner.FD()
				aux.owner.Close()
				delete(l.conns, fd)
			}
		case kindConn:
			c := entry.c
			if _, stillOpen := l.conns[entry.fd]; !stillOpen {
				continue
			}
			ok := true
			if readable && c.WantRead() {
				ok = c.OnReadable()
			}
			if ok && writable && c.WantWrite() {
				ok = c.OnWritable()
			}
			if !ok {
				c.Close()
				delete(l.conns, entry.fd)
			}
		}
	}
}

func (l *Loop) beginShutdown() {
	if l.shuttingDown {
		return
	}
	l.shuttingDown = true
	l.closeListeners()
	l.listenersShut = true
}

// acceptLoop drains every pending connection on a ready listener. EAGAIN
// ends the loop normally; EMFILE/ENFILE back off briefly instead of
// spinning on a descriptor-exhausted process.
func (l *Loop) acceptLoop(le *listenerEntry) {
	for {
		fd, ok, err := netutil.Accept(le.fd)
		if err != nil {
			if err == unix.EMFILE || err == unix.ENFILE {
				time.Sleep(acceptBackoff)
				return
			}
			if l.log != nil {
				l.log.Error.WithError(err).Warn("accept failed")
			}
			return
		}
		if !ok {
			return
		}
		c := conn.New(fd, le.group, le.key, l, l.log)
		l.conns[fd] = c
	}
}
