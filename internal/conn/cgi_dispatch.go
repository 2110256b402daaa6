package conn

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/yourusername/webserv/internal/cgi"
	"github.com/yourusername/webserv/internal/httpresp"
)

// startCGI spawns the matched location's interpreter against the
// request's script, registering the child's two pipe ends as auxiliary
// descriptors the event loop will dispatch back to this Connection.
func (c *Connection) startCGI(body []byte) bool {
	if c.locCgiPass == "" {
		c.enqueueError(500, "")
		return true
	}
	script := c.locCgiPath
	if script == "" {
		script = joinUnderRoot(c.effRoot, c.normTarget)
	}

	info := cgi.RequestInfo{
		Method:     c.req.Method,
		Target:     c.req.Target,
		ScriptName: c.matchedLocPath(),
		ScriptPath: script,
		ServerName: c.srv.Host,
		ServerPort: c.srv.Port,
		RemoteAddr: c.peer,
		Headers:    c.req.Headers,
		BodyLen:    int64(len(body)),
		HasBody:    len(body) > 0,
	}
	env := cgi.BuildEnv(info)

	proc, err := cgi.Start(c.locCgiPass, script, filepath.Dir(script), env)
	if err != nil {
		c.enqueueError(500, "")
		return true
	}

	c.cgiProc = proc
	c.cgiHeader = cgi.NewHeaderParser()
	c.cgiRespBody = nil
	c.cgiStdinBuf = body
	c.cgiStdinPos = 0
	c.cgiState = cgiStreaming
	c.state = stateCGIStreaming
	c.tCGIStart = nowMs()

	if len(body) == 0 {
		proc.CloseStdin()
	} else {
		c.loop.RegisterAux(proc.StdinFd(), c, false, true)
	}
	c.loop.RegisterAux(proc.StdoutFd(), c, true, false)
	return true
}

func (c *Connection) matchedLocPath() string {
	if c.matchedLoc != nil {
		return c.matchedLoc.Path
	}
	return "/"
}

// OnAuxEvent is dispatched by the event loop when one of this
// Connection's registered CGI pipe descriptors becomes ready.
func (c *Connection) OnAuxEvent(fd int, readable, writable bool) bool {
	if c.cgiProc == nil {
		return true
	}
	if writable && fd == c.cgiProc.StdinFd() {
		return c.onCGIStdinWritable()
	}
	if readable && fd == c.cgiProc.StdoutFd() {
		return c.onCGIStdoutReadable()
	}
	return true
}

func (c *Connection) onCGIStdinWritable() bool {
	n, err := c.cgiProc.WriteStdin(c.cgiStdinBuf[c.cgiStdinPos:])
	if n > 0 {
		c.cgiStdinPos += n
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		c.abortCGI(502)
		return true
	}
	if c.cgiStdinPos >= len(c.cgiStdinBuf) {
		c.loop.UnregisterAux(c.cgiProc.StdinFd())
		c.cgiProc.CloseStdin()
	}
	return true
}

func (c *Connection) onCGIStdoutReadable() bool {
	var scratch [16384]byte
	n, err := c.cgiProc.ReadStdout(scratch[:])
	if n == 0 && err == nil {
		c.finishCGI()
		return true
	}
	if n < 0 || err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		c.finishCGI()
		return true
	}

	body, done, herr := c.cgiHeader.Feed(scratch[:n])
	if herr != nil {
		c.abortCGI(502)
		return true
	}
	if done {
		c.cgiRespBody = append(c.cgiRespBody, body...)
		if len(c.cgiRespBody) > cgi.MaxBodyBytes {
			c.abortCGI(502)
			return true
		}
	}
	return true
}

// finishCGI builds the final response from whatever the child produced.
// A child that never completed its header block is a protocol violation
// (502); otherwise the parsed Status and headers become the response.
func (c *Connection) finishCGI() {
	c.loop.UnregisterAux(c.cgiProc.StdoutFd())
	c.cgiProc.CloseStdout()
	// Stdout EOF usually means the child has already exited; a single
	// non-blocking reap picks it up without risking a block on this
	// thread if it hasn't quite finished yet.
	c.cgiProc.Reap()
	c.cgiState = cgiDone

	if !c.cgiHeader.Done() {
		c.enqueueError(502, "")
		return
	}

	status := c.cgiHeader.Status
	resp := httpresp.New(status, httpresp.ReasonPhrase(status))
	for _, f := range c.cgiHeader.Fields {
		if strings.EqualFold(f.Name, "Connection") || strings.EqualFold(f.Name, "Content-Length") {
			continue // Connection: close is forced; Content-Length is recomputed from the collected body
		}
		resp.AddHeader(f.Name, f.Value)
	}
	resp.SetBody(c.cgiRespBody)
	c.enqueueResponse(resp, c.req.Method == "HEAD")
}

// abortCGI tears down a misbehaving or timed-out child and responds with
// status.
func (c *Connection) abortCGI(status int) {
	if c.cgiProc != nil {
		c.cgiProc.Kill()
		c.cgiProc.Reap()
		c.loop.UnregisterAux(c.cgiProc.StdinFd())
		c.loop.UnregisterAux(c.cgiProc.StdoutFd())
		c.cgiProc.CloseStdin()
		c.cgiProc.CloseStdout()
	}
	c.cgiState = cgiDone
	c.enqueueError(status, "")
}
