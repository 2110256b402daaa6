package eventloop

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/logging"
	"github.com/yourusername/webserv/internal/signals"
)

func testConfig(t *testing.T, port uint16) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return &config.Config{Servers: []*config.ServerConfig{{
		Host:  "127.0.0.1",
		Port:  port,
		Root:  dir,
		Index: []string{"index.html"},
	}}}
}

func testLogger() *logging.Logger {
	l := logging.New("", "")
	l.Error.SetOutput(io.Discard)
	l.Access.SetOutput(io.Discard)
	return l
}

// TestAcceptServesOneRequestThenShutdownIsGraceful exercises a full
// accept-through-response round trip over a real TCP socket, then checks
// that a shutdown signal stops new accepts and lets Run return cleanly
// once the in-flight connection finishes.
func TestAcceptServesOneRequestThenShutdownIsGraceful(t *testing.T) {
	const port = 18181
	cfg := testConfig(t, port)

	notifier, err := signals.Install()
	if err != nil {
		t.Fatalf("signals.Install: %v", err)
	}
	defer notifier.Close()

	loop, err := New(cfg, notifier, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	conn, err := dialRetry("127.0.0.1:18181", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(status, "200") {
		t.Fatalf("unexpected status line: %q", status)
	}
	conn.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after SIGTERM")
	}

	if _, err := net.DialTimeout("tcp", "127.0.0.1:18181", 200*time.Millisecond); err == nil {
		t.Fatalf("listener still accepting connections after shutdown")
	}
}

func dialRetry(addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}
