// Package conn implements the per-client Connection state machine: it
// drives the request parser, router, static file handler, CGI gateway
// and body framing for exactly one request per connection (no
// keep-alive), and is driven in turn by the event loop's readiness
// callbacks.
package conn

import (
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/cgi"
	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/httpresp"
	"github.com/yourusername/webserv/internal/logging"
	"github.com/yourusername/webserv/internal/netutil"
	"github.com/yourusername/webserv/internal/routing"
	"github.com/yourusername/webserv/internal/static"
)

type state int

const (
	stateReadingHeaders state = iota
	stateReadingBodyFixed
	stateReadingBodyChunked
	stateCGIStreaming
	stateWriting
	stateClosed
)

type bodyState int

const (
	bodyNone bodyState = iota
	bodyFixed
	bodyChunked
	bodyDone
)

type cgiState int

const (
	cgiNone cgiState = iota
	cgiSpawning
	cgiStreaming
	cgiDone
)

// Timeout constants, carried forward from the original implementation's
// millisecond deadlines.
const (
	idleTimeoutMs       = 15000
	writeDrainTimeoutMs = 10000
	cgiTimeoutMs        = 5000
)

// AuxRegistrar is how a Connection registers/updates/unregisters the raw
// CGI pipe descriptors it owns with the event loop's poll set, without
// internal/conn importing internal/eventloop.
type AuxRegistrar interface {
	RegisterAux(fd int, owner *Connection, wantRead, wantWrite bool) bool
	UpdateAux(fd int, wantRead, wantWrite bool)
	UnregisterAux(fd int)
}

// Connection is one accepted client socket and everything needed to
// parse, route and answer exactly one HTTP/1.1 request on it.
type Connection struct {
	fd     int
	closed bool

	group   []*config.ServerConfig
	srv     *config.ServerConfig
	bindKey string
	vhost   string
	peer    string

	router    *routing.Router
	routerSrv *config.ServerConfig

	loop AuxRegistrar
	log  *logging.Logger

	parser *httpparse.Parser
	wbuf   []byte
	wpos   int

	state       state
	headersDone bool
	req         *httpparse.Request

	bodyState    bodyState
	bodyBuf      *bytebufferpool.ByteBuffer // accumulates one request's body across many OnReadable calls
	bodyLimit    int64                      // noCeiling (0) == unlimited
	clRemaining  int64
	chunkDecoder *httpparse.ChunkedDecoder
	chunkPending []byte

	drainAfterResponse bool

	tStart        int64
	tLastActive   int64
	tHeadersStart int64
	tWriteStart   int64
	bytesSent     int
	statusCode    int
	logged        bool
	reqLine       string

	cgiState     cgiState
	cgiProc      *cgi.Process
	cgiHeader    *cgi.HeaderParser
	cgiRespBody  []byte
	tCGIStart    int64
	cgiStdinBuf  []byte
	cgiStdinPos  int

	normTarget    string
	matchedLoc    *config.Location
	uploadStore   string
	cgiEnabled    bool
	locCgiPass    string
	locCgiPath    string
	effRoot       string
	effIndex      []string
	effAutoindex  bool
}

// New creates a Connection for an accepted client fd. group is every
// ServerConfig sharing the bind, bindKey is the "host:port" string for
// logging, and loop lets the connection register CGI auxiliary
// descriptors.
func New(fd int, group []*config.ServerConfig, bindKey string, loop AuxRegistrar, log *logging.Logger) *Connection {
	now := nowMs()
	c := &Connection{
		fd:            fd,
		group:         group,
		srv:           group[0],
		bindKey:       bindKey,
		peer:          netutil.PeerAddr(fd),
		loop:          loop,
		log:           log,
		parser:        httpparse.New(limitsFor(group[0])),
		bodyBuf:       bytebufferpool.Get(),
		state:         stateReadingHeaders,
		tStart:        now,
		tLastActive:   now,
		tHeadersStart: now,
	}
	return c
}

func nowMs() int64 { return time.Now().UnixMilli() }

func limitsFor(s *config.ServerConfig) httpparse.Limits {
	return httpparse.Limits{
		MaxRequestLine: orDefault(s.MaxRequestLine, config.DefaultMaxRequestLine),
		MaxHeaderSize:  orDefault(s.MaxHeaderSize, config.DefaultMaxHeaderSize),
		MaxHeaderLines: int(orDefault(int64(s.MaxHeaderLines), config.DefaultMaxHeaderLines)),
	}
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

// FD returns the client socket descriptor.
func (c *Connection) FD() int { return c.fd }

// IsClosed reports whether the connection has finished and its socket has
// been closed.
func (c *Connection) IsClosed() bool { return c.closed }

// WantRead reports whether the event loop should poll this connection's
// socket for POLLIN.
func (c *Connection) WantRead() bool {
	if c.closed {
		return false
	}
	if c.drainAfterResponse {
		return true
	}
	switch c.state {
	case stateReadingHeaders, stateReadingBodyFixed, stateReadingBodyChunked:
		return len(c.wbuf) == c.wpos
	default:
		return false
	}
}

// WantWrite reports whether the event loop should poll this connection's
// socket for POLLOUT.
func (c *Connection) WantWrite() bool {
	if c.closed {
		return false
	}
	return c.wpos < len(c.wbuf)
}

// OnReadable handles one POLLIN readiness on the client socket. It
// returns false if the connection should be torn down.
func (c *Connection) OnReadable() bool {
	var scratch [16384]byte
	n, err := unix.Read(c.fd, scratch[:])
	if n == 0 && err == nil {
		return false // peer closed
	}
	if n < 0 || err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		return false
	}
	c.tLastActive = nowMs()

	if c.drainAfterResponse {
		return true // discard
	}

	data := scratch[:n]
	switch c.state {
	case stateReadingHeaders:
		return c.feedHeaders(data)
	case stateReadingBodyFixed:
		return c.feedFixedBody(data)
	case stateReadingBodyChunked:
		return c.feedChunkedBody(data)
	default:
		return true
	}
}

func (c *Connection) feedHeaders(data []byte) bool {
	status, err := c.parser.Feed(data)
	switch status {
	case httpparse.NeedMore:
		return true
	case httpparse.Err:
		c.respondParseError(err)
		return true
	}

	req := c.parser.Request()
	c.req = req
	c.reqLine = req.Method + " " + req.Target + " " + req.Version
	c.selectVhost(req)
	c.route(req)

	rest := c.parser.Rest()
	return c.dispatch(rest)
}

func (c *Connection) respondParseError(err error) {
	status := 400
	switch err {
	case httpparse.ErrRequestLineTooLarge:
		status = 414
	case httpparse.ErrHeadersTooLarge, httpparse.ErrTooManyHeaderLines:
		status = 431
	}
	c.enqueueError(status, "")
}

// selectVhost reselects c.srv by a case-insensitive, port-stripped match
// of the Host header against the bind group's server names, permitted at
// most once per request and always before routing.
func (c *Connection) selectVhost(req *httpparse.Request) {
	c.srv = c.group[0]
	host, ok := req.Headers.Get("Host")
	if ok {
		host = stripPort(host)
		for _, s := range c.group {
			for _, name := range s.ServerNames {
				if strings.EqualFold(name, host) {
					c.srv = s
				}
			}
		}
	}
	c.vhost = c.srv.Host
	if c.routerSrv != c.srv {
		c.router = routing.Build(c.srv)
		c.routerSrv = c.srv
	}
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func (c *Connection) route(req *httpparse.Request) {
	target := routing.NormalizeTarget(cutQuery(req.Target))
	c.normTarget = target
	loc := c.router.Match(target)
	c.matchedLoc = loc

	c.effRoot = c.srv.Root
	c.effIndex = c.srv.Index
	c.effAutoindex = false
	c.uploadStore = ""
	c.cgiEnabled = false
	c.locCgiPass, c.locCgiPath = "", ""

	if loc != nil {
		if loc.HasRoot {
			c.effRoot = loc.Root
		}
		if loc.HasIndex {
			c.effIndex = loc.Index
		}
		if loc.HasAutoindex {
			c.effAutoindex = loc.Autoindex
		}
		c.uploadStore = loc.UploadStore
		if loc.CgiPass != "" {
			c.cgiEnabled = true
			c.locCgiPass = loc.CgiPass
			c.locCgiPath = loc.CgiPath
		}
	}
}

func cutQuery(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

// dispatch applies the read-path policy order from a freshly-routed
// request: redirect, method filter, DELETE, CGI, static GET/HEAD, POST
// body init.
func (c *Connection) dispatch(rest []byte) bool {
	req := c.req
	loc := c.matchedLoc

	if loc != nil && loc.HasRedirect {
		suffix := strings.TrimPrefix(c.normTarget, loc.Path)
		c.enqueueRedirect(loc.RedirectCode, loc.RedirectLocation+suffix)
		return true
	}

	if loc != nil && loc.HasMethods && !loc.Allowed(req.Method) {
		c.enqueueError(405, allowHeader(loc.EffectiveMethodsMask()))
		return true
	}

	switch req.Method {
	case "DELETE":
		c.handleDelete()
		return true
	case "GET", "HEAD":
		if c.cgiEnabled {
			return c.startCGI(nil)
		}
		c.handleStatic(req.Method == "HEAD")
		return true
	case "POST":
		return c.startBody(rest)
	default:
		c.enqueueError(501, "")
		return true
	}
}

func allowHeader(mask uint) string {
	var methods []string
	if mask&config.MethodGet != 0 {
		methods = append(methods, "GET")
	}
	if mask&config.MethodHead != 0 {
		methods = append(methods, "HEAD")
	}
	if mask&config.MethodPost != 0 {
		methods = append(methods, "POST")
	}
	if mask&config.MethodDelete != 0 {
		methods = append(methods, "DELETE")
	}
	return strings.Join(methods, ", ")
}

func (c *Connection) handleStatic(isHead bool) {
	resp, err := static.Handle(c.effRoot, c.effIndex, c.normTarget, isHead, c.effAutoindex)
	if err != nil {
		switch err {
		case static.ErrNotFound, static.ErrIndexNotFound:
			c.enqueueError(404, "")
		default:
			c.enqueueError(500, "")
		}
		return
	}
	c.enqueueResponse(resp, isHead)
}

func (c *Connection) handleDelete() {
	base := c.uploadStore
	if base == "" {
		base = c.effRoot
	}
	path := joinUnderRoot(base, c.normTarget)
	if !regularFileExists(path) {
		c.enqueueError(404, "")
		return
	}
	if err := removeFile(path); err != nil {
		c.enqueueError(500, "")
		return
	}
	resp := httpresp.New(204, "No Content")
	c.enqueueResponse(resp, false)
}

func (c *Connection) enqueueRedirect(code int, location string) {
	reason := httpresp.ReasonPhrase(code)
	resp := httpresp.New(code, reason)
	resp.SetHeader("Location", location)
	c.enqueueResponse(resp, false)
}

func (c *Connection) enqueueError(status int, allow string) {
	resp := httpresp.ErrorPage(status, c.srv.Root, c.srv.ErrorPages, allow)
	c.enqueueResponse(resp, false)
}

func (c *Connection) enqueueResponse(resp *httpresp.Response, omitBody bool) {
	c.statusCode = resp.Status
	c.wbuf = resp.Serialize(omitBody)
	c.wpos = 0
	c.state = stateWriting
	c.tWriteStart = nowMs()
	if resp.Status >= 400 {
		c.drainAfterResponse = true
	}
}

// OnWritable drains as much of the write buffer as one send accepts.
func (c *Connection) OnWritable() bool {
	for c.wpos < len(c.wbuf) {
		n, err := unix.Write(c.fd, c.wbuf[c.wpos:])
		if n > 0 {
			c.wpos += n
			c.bytesSent += n
			if c.wpos < len(c.wbuf) {
				return true // wait for the next writable event
			}
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		return false
	}
	if c.drainAfterResponse {
		return true
	}
	c.logAccess()
	return false
}

func (c *Connection) logAccess() {
	if c.logged || c.log == nil {
		return
	}
	c.logged = true
	c.log.Log(logging.AccessFields{
		Peer:        c.peer,
		BindKey:     c.bindKey,
		Vhost:       c.vhost,
		RequestLine: c.reqLine,
		Status:      c.statusCode,
		BytesSent:   c.bytesSent,
		DurationMs:  nowMs() - c.tStart,
	})
}

// CheckTimeouts enforces the idle, headers, write-drain and CGI
// deadlines. It returns false when the connection should be torn down.
func (c *Connection) CheckTimeouts(now int64) bool {
	if c.closed {
		return false
	}
	switch c.state {
	case stateReadingHeaders:
		headerTimeout := c.srv.HeaderTimeoutMs
		if headerTimeout <= 0 {
			headerTimeout = config.DefaultHeaderTimeoutMs
		}
		if now-c.tHeadersStart > headerTimeout {
			c.enqueueError(408, "")
			return true
		}
		if now-c.tLastActive > idleTimeoutMs {
			c.enqueueError(408, "")
			return true
		}
	case stateReadingBodyFixed, stateReadingBodyChunked:
		if now-c.tLastActive > idleTimeoutMs {
			c.enqueueError(408, "")
			return true
		}
	case stateWriting:
		if now-c.tWriteStart > writeDrainTimeoutMs {
			return false
		}
	case stateCGIStreaming:
		if now-c.tCGIStart > cgiTimeoutMs {
			c.abortCGI(504)
			return true
		}
	}
	return true
}

// Close releases the client socket and any still-open CGI pipes.
func (c *Connection) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.bodyBuf != nil {
		bytebufferpool.Put(c.bodyBuf)
		c.bodyBuf = nil
	}
	if c.cgiProc != nil {
		c.loop.UnregisterAux(c.cgiProc.StdinFd())
		c.loop.UnregisterAux(c.cgiProc.StdoutFd())
		c.cgiProc.CloseStdin()
		c.cgiProc.CloseStdout()
	}
	unix.Close(c.fd)
}

func joinUnderRoot(root, target string) string {
	clean := routing.NormalizeTarget(target)
	return root + clean
}
