// Package cgi implements the CGI/1.1 gateway: building the child's
// environment, spawning it with non-blocking pipes, and parsing its
// header block out of the stdout stream.
package cgi

import (
	"strconv"
	"strings"

	"github.com/yourusername/webserv/internal/httpparse"
)

// RequestInfo is everything the CGI environment depends on, gathered by
// internal/conn once routing has picked the script and interpreter.
type RequestInfo struct {
	Method       string
	Target       string
	ScriptName   string
	PathInfo     string
	ScriptPath   string
	ServerName   string
	ServerPort   uint16
	RemoteAddr   string
	Headers      httpparse.Header
	BodyLen      int64
	HasBody      bool
}

// BuildEnv constructs the CGI/1.1 environment list, grounded on the
// standard variable set plus one HTTP_* entry per request header.
func BuildEnv(info RequestInfo) []string {
	env := make([]string, 0, 16+len(info.Headers))

	env = append(env,
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"REQUEST_METHOD="+info.Method,
		"SCRIPT_FILENAME="+info.ScriptPath,
		"SCRIPT_NAME="+info.ScriptName,
		"PATH_INFO="+info.PathInfo,
		"SERVER_NAME="+info.ServerName,
		"SERVER_PORT="+strconv.Itoa(int(info.ServerPort)),
		"QUERY_STRING="+queryString(info.Target),
	)

	if ct, ok := info.Headers.Get("Content-Type"); ok {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	if info.HasBody {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(info.BodyLen, 10))
	} else {
		env = append(env, "CONTENT_LENGTH=0")
	}

	for _, h := range info.Headers {
		env = append(env, "HTTP_"+httpVarName(h.Name)+"="+h.Value)
	}

	return env
}

func queryString(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[i+1:]
	}
	return ""
}

func httpVarName(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-':
			b[i] = '_'
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		default:
			b[i] = c
		}
	}
	return string(b)
}
