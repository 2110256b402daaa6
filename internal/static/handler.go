// Package static resolves a normalized request path under a server or
// location root to a file on disk, serving it directly, falling back to
// an index file for a directory, or generating an autoindex listing.
package static

import (
	"errors"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourusername/webserv/internal/httpresp"
)

var (
	// ErrNotFound means the requested path does not exist.
	ErrNotFound = errors.New("static: not found")
	// ErrIndexNotFound means the path resolved to a directory with no
	// usable index file and autoindex is off.
	ErrIndexNotFound = errors.New("static: no index and autoindex disabled")
	// ErrReadFailed means the file exists but could not be read.
	ErrReadFailed = errors.New("static: read failed")
)

// Handle resolves urlPath (already routing.NormalizeTarget'd) under root
// and builds the 200 response for it, or returns a sentinel error the
// caller maps to 404/500.
func Handle(root string, indexList []string, urlPath string, isHead, autoindex bool) (*httpresp.Response, error) {
	fsPath := joinPath(root, urlPath)

	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, ErrNotFound
	}

	if info.IsDir() {
		if resolved, idxInfo, ok := resolveIndex(fsPath, indexList); ok {
			fsPath, info = resolved, idxInfo
		} else {
			if !autoindex {
				return nil, ErrIndexNotFound
			}
			return autoindexResponse(fsPath, urlPath)
		}
	}

	r := httpresp.New(200, "OK")
	r.SetHeader("Content-Type", MimeOf(fsPath))
	if isHead {
		r.SetHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
		return r, nil
	}
	body, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, ErrReadFailed
	}
	r.SetBody(body)
	return r, nil
}

func resolveIndex(dirPath string, indexList []string) (string, os.FileInfo, bool) {
	for _, name := range indexList {
		candidate := joinPath(dirPath, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, info, true
		}
	}
	return "", nil, false
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	return filepath.Join(a, strings.TrimPrefix(b, "/"))
}

func autoindexResponse(fsPath, urlPath string) (*httpresp.Response, error) {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, ErrReadFailed
	}
	var b strings.Builder
	b.WriteString("<html><head><title>Index of ")
	b.WriteString(html.EscapeString(urlPath))
	b.WriteString("</title></head><body>\n<h1>Index of ")
	b.WriteString(html.EscapeString(urlPath))
	b.WriteString("</h1>\n<ul>\n")
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		href := urlPath
		if href == "" || href[len(href)-1] != '/' {
			href += "/"
		}
		href += name
		if e.IsDir() {
			href += "/"
			name += "/"
		}
		b.WriteString("  <li><a href=\"")
		b.WriteString(html.EscapeString(href))
		b.WriteString("\">")
		b.WriteString(html.EscapeString(name))
		b.WriteString("</a></li>\n")
	}
	b.WriteString("</ul>\n</body></html>\n")

	r := httpresp.New(200, "OK")
	r.SetHeader("Content-Type", "text/html; charset=utf-8")
	r.SetBody([]byte(b.String()))
	return r, nil
}
