package conn

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/webserv/internal/config"
	"github.com/yourusername/webserv/internal/httpparse"
	"github.com/yourusername/webserv/internal/httpresp"
)

// noCeiling marks an effective body-size ceiling of "unlimited": neither
// the matched location nor the server set client_max_body_size.
const noCeiling = 0

// startBody initializes the body machine for a POST once headers are
// parsed, choosing chunked or fixed-length framing, and feeds it any
// leftover bytes the header parser already buffered.
func (c *Connection) startBody(rest []byte) bool {
	req := c.req
	limit := c.effectiveCeiling()

	if req.IsChunked() {
		c.bodyState = bodyChunked
		c.bodyLimit = limit
		c.chunkDecoder = httpparse.NewChunkedDecoder()
		c.state = stateReadingBodyChunked
		if len(rest) > 0 {
			return c.feedChunkedBody(rest)
		}
		return true
	}

	cl, ok := req.ContentLength()
	if !ok {
		c.enqueueError(411, "")
		return true
	}
	if cl < 0 {
		c.enqueueError(400, "")
		return true
	}
	if limit != noCeiling && cl > limit {
		c.enqueueError(413, "")
		return true
	}

	c.bodyState = bodyFixed
	c.bodyLimit = limit
	c.clRemaining = cl
	c.state = stateReadingBodyFixed
	if cl == 0 {
		c.bodyBuf.Reset()
		return c.completeBody()
	}
	if len(rest) > 0 {
		return c.feedFixedBody(rest)
	}
	return true
}

func (c *Connection) feedFixedBody(data []byte) bool {
	take := data
	if int64(len(take)) > c.clRemaining {
		take = take[:c.clRemaining]
	}
	c.bodyBuf.Write(take)
	c.clRemaining -= int64(len(take))
	if c.bodyLimit != noCeiling && int64(c.bodyBuf.Len()) > c.bodyLimit {
		c.enqueueError(413, "")
		return true
	}
	if c.clRemaining == 0 {
		return c.completeBody()
	}
	return true
}

func (c *Connection) feedChunkedBody(data []byte) bool {
	if len(c.chunkPending) > 0 {
		data = append(c.chunkPending, data...)
		c.chunkPending = nil
	}
	for {
		consumed, done, err := c.chunkDecoder.Feed(data, &c.bodyBuf.B)
		if err != nil {
			c.enqueueError(400, "")
			return true
		}
		if c.bodyLimit != noCeiling && int64(c.bodyBuf.Len()) > c.bodyLimit {
			c.enqueueError(413, "")
			return true
		}
		data = data[consumed:]
		if done {
			return c.completeBody()
		}
		if consumed == 0 {
			if len(data) > 0 {
				c.chunkPending = append([]byte(nil), data...)
			}
			return true // needs more input
		}
	}
}

// effectiveCeiling resolves location override, then server ceiling, else
// unlimited (noCeiling).
func (c *Connection) effectiveCeiling() int64 {
	if c.matchedLoc != nil && c.matchedLoc.HasClientMaxBodySizeOverride {
		return c.matchedLoc.ClientMaxBodySizeOverride
	}
	if c.srv.ClientMaxBodySize > 0 {
		return c.srv.ClientMaxBodySize
	}
	return noCeiling
}

// completeBody runs once the full request body has been buffered: it
// launches CGI if the matched location enables it, otherwise writes the
// body to the upload store or synthesizes a placeholder summary.
func (c *Connection) completeBody() bool {
	c.bodyState = bodyDone
	if c.cgiEnabled {
		return c.startCGI(c.bodyBuf.B)
	}
	if c.uploadStore != "" {
		return c.handleUpload()
	}
	resp := httpresp.New(200, "OK")
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	resp.SetBody(placeholderSummary(c.bodyBuf.Len()))
	c.enqueueResponse(resp, false)
	return true
}

func placeholderSummary(n int) []byte {
	return []byte("received " + strconv.Itoa(n) + " bytes\n")
}

// handleUpload writes the buffered body under uploadStore using the
// sanitized target filename, responding 201 for a new file or 200 for an
// overwrite, and 500 on a write failure.
func (c *Connection) handleUpload() bool {
	name := uploadFilename(c.normTarget, c.matchedLoc)
	path := joinUnderRoot(c.uploadStore, "/"+name)

	existed := regularFileExists(path)
	if err := os.WriteFile(path, c.bodyBuf.B, 0644); err != nil {
		c.enqueueError(500, "")
		return true
	}
	location := uploadLocation(c.matchedLocPath(), name)
	if existed {
		resp := httpresp.New(200, "OK")
		resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
		resp.SetHeader("Location", location)
		resp.SetBody([]byte(name + " (overwritten)\n"))
		c.enqueueResponse(resp, false)
	} else {
		resp := httpresp.New(201, "Created")
		resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
		resp.SetHeader("Location", location)
		resp.SetBody([]byte(name + "\n"))
		c.enqueueResponse(resp, false)
	}
	return true
}

// uploadLocation builds the Location header value for a finished upload:
// the matched location's path joined with the stored filename.
func uploadLocation(locPath, name string) string {
	if locPath == "" || locPath == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(locPath, "/") + "/" + name
}

// uploadFilename derives the stored filename from the request target: the
// last path segment after stripping the matched location's prefix,
// sanitized to [A-Za-z0-9._-], falling back to a timestamped name when
// empty or trailing-slash.
func uploadFilename(normalizedTarget string, loc *config.Location) string {
	path := normalizedTarget
	if loc != nil {
		path = strings.TrimPrefix(path, loc.Path)
	}
	if path == "" || strings.HasSuffix(path, "/") {
		return fallbackUploadName()
	}
	idx := strings.LastIndexByte(path, '/')
	base := path[idx+1:]
	if base == "" {
		return fallbackUploadName()
	}
	return sanitizeFilename(base)
}

func sanitizeFilename(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b[i] = c
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

func fallbackUploadName() string {
	now := time.Now()
	return "upload-" + strconv.FormatInt(now.Unix(), 10) + "-" + strconv.Itoa(now.Nanosecond()/1000) + ".bin"
}
