// Package routing implements longest-prefix-match location selection over
// a server's Location list, plus the request-target normalization every
// match is performed against.
package routing

import (
	"sort"
	"strings"

	"github.com/yourusername/webserv/internal/config"
)

// Router resolves a normalized request path to the best-matching
// Location for one ServerConfig. It is rebuilt lazily whenever the
// selected vhost changes (e.g. after Host-header-based reselection),
// since locations are per-server.
type Router struct {
	locations []*config.Location
	srv       *config.ServerConfig
}

// Build sorts srv's locations by descending path length (longest prefix
// wins), breaking ties lexicographically ascending so the result is
// deterministic regardless of declaration order.
func Build(srv *config.ServerConfig) *Router {
	locs := make([]*config.Location, len(srv.Locations))
	copy(locs, srv.Locations)
	sort.SliceStable(locs, func(i, j int) bool {
		if len(locs[i].Path) != len(locs[j].Path) {
			return len(locs[i].Path) > len(locs[j].Path)
		}
		return locs[i].Path < locs[j].Path
	})
	return &Router{locations: locs, srv: srv}
}

// Server returns the ServerConfig this router was built for, so callers
// can detect staleness after a vhost reselection.
func (r *Router) Server() *config.ServerConfig { return r.srv }

// Match returns the longest-prefix Location whose Path is a prefix of
// path, or nil if none match.
func (r *Router) Match(path string) *config.Location {
	for _, loc := range r.locations {
		if strings.HasPrefix(path, loc.Path) {
			return loc
		}
	}
	return nil
}

// NormalizeTarget cleans a request-target into an absolute, traversal-free
// path: ensures a leading '/', converts backslashes to forward slashes,
// collapses repeated slashes, and rejects any ".." path segment by
// falling back to "/" rather than attempting to resolve it.
func NormalizeTarget(target string) string {
	if target == "" || target[0] != '/' {
		target = "/" + target
	}
	target = strings.ReplaceAll(target, "\\", "/")

	segments := strings.Split(target, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if seg == ".." {
			return "/"
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}
