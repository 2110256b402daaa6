package httpresp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSerializeIncludesDefaultHeaders(t *testing.T) {
	r := New(200, "OK")
	r.SetBody([]byte("hi"))
	out := string(r.Serialize(false))
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", out)
	}
	for _, want := range []string{"Connection: close", "Content-Length: 2", "Server: webserv"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in response, got:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\r\n\r\nhi") {
		t.Fatalf("expected body to follow blank line, got %q", out)
	}
}

func TestSerializeOmitsBodyOnHead(t *testing.T) {
	r := New(200, "OK")
	r.SetBody([]byte("hi"))
	out := string(r.Serialize(true))
	if strings.HasSuffix(out, "hi") {
		t.Fatalf("expected body omitted, got %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2") {
		t.Fatalf("expected Content-Length retained even with omitted body")
	}
}

func TestErrorPageSynthesizedFallback(t *testing.T) {
	r := ErrorPage(404, "/nonexistent-root", nil, "")
	out := string(r.Serialize(false))
	if !strings.Contains(out, "404 Not Found") {
		t.Fatalf("expected synthesized 404 body, got %q", out)
	}
}

func TestErrorPageFallsBackToOnDiskFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "www", "error"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "www", "error", "404.html"), []byte("<p>custom 404</p>"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r := ErrorPage(404, root, nil, "")
	out := string(r.Serialize(false))
	if !strings.Contains(out, "custom 404") {
		t.Fatalf("expected on-disk error page body, got %q", out)
	}
}

func TestErrorPagePrefersMappedOverOnDisk(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "www", "error"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "www", "error", "404.html"), []byte("<p>on-disk</p>"), 0644); err != nil {
		t.Fatalf("write on-disk fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "mapped-404.html"), []byte("<p>mapped</p>"), 0644); err != nil {
		t.Fatalf("write mapped fixture: %v", err)
	}
	r := ErrorPage(404, root, map[int]string{404: "mapped-404.html"}, "")
	out := string(r.Serialize(false))
	if !strings.Contains(out, "mapped") || strings.Contains(out, "on-disk") {
		t.Fatalf("expected mapped page to win over on-disk fallback, got %q", out)
	}
}

func TestErrorPageIncludesAllowHeader(t *testing.T) {
	r := ErrorPage(405, "/root", nil, "GET, HEAD")
	out := string(r.Serialize(false))
	if !strings.Contains(out, "Allow: GET, HEAD") {
		t.Fatalf("expected Allow header, got %q", out)
	}
}
