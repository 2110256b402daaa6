package conn

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/logging"
)

// noopAuxRegistrar satisfies AuxRegistrar for tests that never drive CGI.
type noopAuxRegistrar struct{}

func (noopAuxRegistrar) RegisterAux(fd int, owner *Connection, wantRead, wantWrite bool) bool {
	return true
}
func (noopAuxRegistrar) UpdateAux(fd int, wantRead, wantWrite bool) {}
func (noopAuxRegistrar) UnregisterAux(fd int)                       {}

func testLogger() *logging.Logger {
	l := logging.New("", "")
	l.Error.SetOutput(io.Discard)
	l.Access.SetOutput(io.Discard)
	return l
}

// socketpairConn returns a Connection wired to one end of a connected
// AF_UNIX stream socketpair and the raw fd of the other end, which the
// test drives as if it were the remote client.
func socketpairConn(t *testing.T, srv *config.ServerConfig) (*Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	c := New(fds[0], []*config.ServerConfig{srv}, srv.BindKey(), noopAuxRegistrar{}, testLogger())
	t.Cleanup(func() { unix.Close(fds[1]) })
	return c, fds[1]
}

func mustWrite(t *testing.T, fd int, s string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readAll reads every byte available on fd without blocking forever: it
// stops once a read would return EAGAIN.
func readAll(t *testing.T, fd int) []byte {
	t.Helper()
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	var out []byte
	var buf [4096]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || n == 0 {
			return out
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

// drainWrite pumps OnWritable until the connection has nothing left to
// send, then returns what the peer received.
func drainWrite(t *testing.T, c *Connection, peerFd int) []byte {
	t.Helper()
	for c.WantWrite() {
		if !c.OnWritable() {
			break
		}
	}
	return readAll(t, peerFd)
}

func newStaticServer(t *testing.T, files map[string]string) *config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(body), 0644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	return &config.ServerConfig{
		Host:  "127.0.0.1",
		Port:  8080,
		Root:  dir,
		Index: []string{"index.html"},
	}
}

func statusLine(resp []byte) string {
	i := strings.Index(string(resp), "\r\n")
	if i < 0 {
		return string(resp)
	}
	return string(resp[:i])
}

func splitHeadBody(resp []byte) (string, string) {
	i := strings.Index(string(resp), "\r\n\r\n")
	if i < 0 {
		return string(resp), ""
	}
	return string(resp[:i]), string(resp[i+4:])
}

// S1: GET static file.
func TestStaticGet(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if !c.OnReadable() {
		t.Fatalf("OnReadable reported connection should close")
	}

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 200 OK" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	head, body := splitHeadBody(resp)
	if !strings.Contains(head, "Content-Length: 2") {
		t.Fatalf("missing Content-Length: %q", head)
	}
	if body != "OK" {
		t.Fatalf("unexpected body: %q", body)
	}
}

// S2: HEAD static file produces headers but no body bytes.
func TestStaticHead(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "HEAD / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 200 OK" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	_, body := splitHeadBody(resp)
	if body != "" {
		t.Fatalf("expected no body bytes after HEAD, got %q", body)
	}
}

// S3: allowed_methods GET only; a POST is refused 405 and HEAD piggybacks
// onto the Allow header even though it was never listed explicitly.
func TestMethodNotAllowed(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	srv.Locations = []*config.Location{
		{Path: "/only-get", HasMethods: true, MethodsMask: config.MethodGet},
	}
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "POST /only-get HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 405 Method Not Allowed" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	head, _ := splitHeadBody(resp)
	if !strings.Contains(head, "Allow: GET, HEAD") {
		t.Fatalf("expected Allow: GET, HEAD, got %q", head)
	}
}

// S4: a location redirect rewrites the prefix and preserves the suffix.
func TestRedirect(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	srv.Locations = []*config.Location{
		{Path: "/old", HasRedirect: true, RedirectCode: 301, RedirectLocation: "/new"},
	}
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "GET /old/path HTTP/1.1\r\nHost: x\r\n\r\n")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 301 Moved Permanently" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	head, _ := splitHeadBody(resp)
	if !strings.Contains(head, "Location: /new/path") {
		t.Fatalf("expected Location: /new/path, got %q", head)
	}
}

// S5: a POST under an upload_store location writes the body to disk and
// reports 201 for a new file.
func TestUploadCreatesFile(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	tmp := t.TempDir()
	srv.Locations = []*config.Location{
		{Path: "/up", HasMethods: true, MethodsMask: config.MethodPost, UploadStore: tmp},
	}
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "POST /up/hello.txt HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 201 Created" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	head, _ := splitHeadBody(resp)
	if !strings.Contains(head, "Location: /up/hello.txt") {
		t.Fatalf("expected Location: /up/hello.txt, got %q", head)
	}
	got, err := os.ReadFile(filepath.Join(tmp, "hello.txt"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected uploaded contents: %q", got)
	}
}

// S6: a body exceeding client_max_body_size is rejected 413 without the
// connection accepting the full oversized payload as a request.
func TestBodyExceedsCeiling(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	srv.ClientMaxBodySize = 4
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 413 Payload Too Large" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
	if !c.drainAfterResponse {
		t.Fatalf("expected connection to enter drain mode after a 4xx")
	}
}

// Unset client_max_body_size anywhere means unlimited, not a hidden
// fallback cap. The request is bigger than a unix-socket send buffer, so
// the peer write happens concurrently with the connection draining its
// read side, the way the event loop would pump multiple POLLIN cycles.
func TestBodyUnlimitedWhenCeilingUnset(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	c, peer := socketpairConn(t, srv)

	body := strings.Repeat("x", 1<<21) // 2 MiB
	req := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body

	writeErr := make(chan error, 1)
	go func() {
		buf := []byte(req)
		for len(buf) > 0 {
			n, err := unix.Write(peer, buf)
			if err != nil {
				writeErr <- err
				return
			}
			buf = buf[n:]
		}
		writeErr <- nil
	}()

	for i := 0; i < 10000 && c.state != stateWriting; i++ {
		c.OnReadable()
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if c.state != stateWriting {
		t.Fatalf("connection never finished reading the body")
	}

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 200 OK" {
		t.Fatalf("expected an unlimited ceiling to accept a 2 MiB body, got %q", statusLine(resp))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// A DELETE against a file that does not exist is refused 404.
func TestDeleteMissingFile(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	srv.Locations = []*config.Location{
		{Path: "/", HasMethods: true, MethodsMask: config.MethodGet | config.MethodDelete},
	}
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "DELETE /missing.txt HTTP/1.1\r\nHost: x\r\n\r\n")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 404 Not Found" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
}

// A request line longer than the configured maximum is rejected 414
// before any routing occurs.
func TestRequestLineTooLong(t *testing.T) {
	srv := newStaticServer(t, map[string]string{"index.html": "OK"})
	srv.MaxRequestLine = 16
	c, peer := socketpairConn(t, srv)

	mustWrite(t, peer, "GET /this-path-is-too-long-for-the-limit HTTP/1.1\r\nHost: x\r\n\r\n")
	c.OnReadable()

	resp := drainWrite(t, c, peer)
	if statusLine(resp) != "HTTP/1.1 414 URI Too Long" {
		t.Fatalf("unexpected status line: %q", statusLine(resp))
	}
}
