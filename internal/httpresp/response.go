// Package httpresp builds HTTP/1.1 response messages as one contiguous
// byte slice. There is no keep-alive in this server, so unlike a
// streaming ResponseWriter there is never a reason to flush headers ahead
// of the body: Serialize produces the whole message in one call.
package httpresp

import (
	"strconv"
	"time"
)

// Response is a status line, header set and body awaiting serialization.
type Response struct {
	Status  int
	Reason  string
	Headers []HeaderField
	Body    []byte
}

// HeaderField is one response header in emission order.
type HeaderField struct {
	Name  string
	Value string
}

// New creates a Response for status/reason with Date, Server and
// Connection: close already set, matching the default headers every
// response in this server carries.
func New(status int, reason string) *Response {
	r := &Response{Status: status, Reason: reason}
	r.SetHeader("Date", time.Now().UTC().Format(http11DateFormat))
	r.SetHeader("Server", "webserv")
	r.SetHeader("Connection", "close")
	return r
}

const http11DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// SetHeader replaces (or adds, if absent) a header by name.
func (r *Response) SetHeader(name, value string) {
	for i := range r.Headers {
		if r.Headers[i].Name == name {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

// AddHeader appends a header without deduplicating against an existing
// one of the same name (used for forwarding CGI response headers, where a
// name may repeat).
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

// SetBody sets the body and its Content-Length header together so callers
// can't forget one.
func (r *Response) SetBody(body []byte) {
	r.Body = body
	r.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

// Serialize renders the full response message. If neither Content-Length
// nor Transfer-Encoding is set, Content-Length is set from the body length.
// omitBody is set for HEAD requests: headers (including Content-Length) are
// still emitted, but the body bytes are not written.
func (r *Response) Serialize(omitBody bool) []byte {
	framed := false
	for _, h := range r.Headers {
		if h.Name == "Content-Length" || h.Name == "Transfer-Encoding" {
			framed = true
		}
	}
	if !framed {
		r.SetHeader("Content-Length", strconv.Itoa(len(r.Body)))
	}
	buf := make([]byte, 0, 256+len(r.Body))
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(r.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, r.Reason...)
	buf = append(buf, '\r', '\n')
	for _, h := range r.Headers {
		buf = append(buf, h.Name...)
		buf = append(buf, ':', ' ')
		buf = append(buf, h.Value...)
		buf = append(buf, '\r', '\n')
	}
	buf = append(buf, '\r', '\n')
	if !omitBody {
		buf = append(buf, r.Body...)
	}
	return buf
}

// ReasonPhrase returns the standard reason phrase for a status code
// emitted by this server, or "" if unrecognized.
func ReasonPhrase(status int) string {
	switch status {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 411:
		return "Length Required"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}
