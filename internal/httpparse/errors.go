package httpparse

import "errors"

var (
	// ErrRequestLineTooLarge indicates the request line exceeded its
	// configured cap before a CRLF was found.
	ErrRequestLineTooLarge = errors.New("httpparse: request line too large")

	// ErrInvalidRequestLine indicates a malformed "METHOD target VERSION"
	// line.
	ErrInvalidRequestLine = errors.New("httpparse: invalid request line")

	// ErrInvalidMethod indicates an unrecognized or empty method token.
	ErrInvalidMethod = errors.New("httpparse: invalid method")

	// ErrInvalidVersion indicates anything other than HTTP/1.1 or HTTP/1.0.
	ErrInvalidVersion = errors.New("httpparse: unsupported HTTP version")

	// ErrHeadersTooLarge indicates the cumulative header block exceeded
	// its configured byte cap.
	ErrHeadersTooLarge = errors.New("httpparse: headers too large")

	// ErrTooManyHeaderLines indicates more header lines than configured.
	ErrTooManyHeaderLines = errors.New("httpparse: too many header lines")

	// ErrInvalidHeader indicates a header line without a colon, or with
	// whitespace before the colon (RFC 7230 §3.2.4 obs-fold/space
	// rejection).
	ErrInvalidHeader = errors.New("httpparse: invalid header line")

	// ErrDuplicateContentLength indicates more than one Content-Length
	// header with differing values, a request-smuggling vector.
	ErrDuplicateContentLength = errors.New("httpparse: duplicate Content-Length headers disagree")

	// ErrInvalidContentLength indicates a Content-Length value that
	// isn't a non-negative base-10 integer.
	ErrInvalidContentLength = errors.New("httpparse: invalid Content-Length")

	// ErrContentLengthWithTransferEncoding indicates both Content-Length
	// and Transfer-Encoding were present, which RFC 7230 §3.3.3 requires
	// rejecting outright.
	ErrContentLengthWithTransferEncoding = errors.New("httpparse: both Content-Length and Transfer-Encoding present")

	// ErrUnsupportedTransferEncoding indicates a Transfer-Encoding value
	// other than "chunked".
	ErrUnsupportedTransferEncoding = errors.New("httpparse: unsupported Transfer-Encoding")
)
