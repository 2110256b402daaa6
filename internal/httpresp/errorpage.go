package httpresp

import (
	"os"
	"path/filepath"
	"strings"
)

// ErrorPage builds the Response for a 4xx/5xx status: a server-mapped
// error_page file first, else a well-known www/error/NNN.html file under
// root, else a minimal synthesized HTML body. root is the server's document
// root; a mapped path is always resolved under it, whether or not it starts
// with '/'.
// allow, if non-empty, is emitted as the Allow header (405 responses).
func ErrorPage(status int, root string, mapped map[int]string, allow string) *Response {
	reason := ReasonPhrase(status)
	if reason == "" {
		reason = "Error"
	}
	r := New(status, reason)
	if allow != "" {
		r.SetHeader("Allow", allow)
	}

	if path, ok := mapped[status]; ok {
		if body, ok := readMappedErrorBody(root, path); ok {
			r.SetHeader("Content-Type", contentTypeFor(path))
			r.SetBody(body)
			return r
		}
	}

	if body, ok := readWellKnownErrorBody(root, status); ok {
		r.SetHeader("Content-Type", "text/html; charset=utf-8")
		r.SetBody(body)
		return r
	}

	r.SetHeader("Content-Type", "text/html; charset=utf-8")
	r.SetBody(synthesizeBody(status, reason))
	return r
}

// readWellKnownErrorBody is the middle tier of the mapped -> on-disk ->
// synthesized fallback: www/error/NNN.html under root, tried when no
// error_page directive matched this status.
func readWellKnownErrorBody(root string, status int) ([]byte, bool) {
	path := filepath.Join(root, "www", "error", itoaStatus(status)+".html")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func itoaStatus(status int) string {
	return string(appendInt(nil, status))
}

func readMappedErrorBody(root, path string) ([]byte, bool) {
	full := filepath.Join(root, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

func contentTypeFor(path string) string {
	if strings.HasSuffix(path, ".html") || strings.HasSuffix(path, ".htm") {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func synthesizeBody(status int, reason string) []byte {
	var b []byte
	b = append(b, "<html><head><title>"...)
	b = appendInt(b, status)
	b = append(b, ' ')
	b = append(b, reason...)
	b = append(b, "</title></head><body><h1>"...)
	b = appendInt(b, status)
	b = append(b, ' ')
	b = append(b, reason...)
	b = append(b, "</h1></body></html>\n"...)
	return b
}

func appendInt(b []byte, v int) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [8]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}
