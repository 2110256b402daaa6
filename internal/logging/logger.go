// Package logging wraps logrus into the two sinks the server needs: an
// error/diagnostic stream and a one-line-per-connection access stream.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the server's structured logger. Error is for diagnostics
// (startup, config problems, CGI failures, I/O errors); Access logs one
// entry per finished connection.
type Logger struct {
	Error  *logrus.Logger
	Access *logrus.Logger
}

// New builds a Logger. errorLogPath and accessLogPath may be empty, in
// which case the error sink writes to stderr only and the access sink
// writes to stdout. Opening either file is best-effort: a failure to open
// falls back to the default stream rather than aborting startup, matching
// the "best-effort sinks" language the server's logging component is
// specified with.
func New(errorLogPath, accessLogPath string) *Logger {
	errLog := logrus.New()
	errLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	errLog.SetOutput(openSinkOrFallback(errorLogPath, os.Stderr))

	accLog := logrus.New()
	accLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
	accLog.SetOutput(openSinkOrFallback(accessLogPath, os.Stdout))
	accLog.SetLevel(logrus.InfoLevel)

	return &Logger{Error: errLog, Access: accLog}
}

func openSinkOrFallback(path string, fallback *os.File) io.Writer {
	if path == "" {
		return fallback
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fallback
	}
	return io.MultiWriter(fallback, f)
}

// AccessFields is the structured payload for one access log line, matching
// the connection-level fields the server tracks per request: peer
// address, bind key, selected vhost, request line, status, bytes written
// and duration.
type AccessFields struct {
	Peer        string
	BindKey     string
	Vhost       string
	RequestLine string
	Status      int
	BytesSent   int
	DurationMs  int64
}

// Log emits one access line.
func (l *Logger) Log(f AccessFields) {
	l.Access.WithFields(logrus.Fields{
		"peer":     f.Peer,
		"bind":     f.BindKey,
		"vhost":    f.Vhost,
		"request":  f.RequestLine,
		"status":   f.Status,
		"bytes":    f.BytesSent,
		"duration": f.DurationMs,
	}).Info("request")
}
