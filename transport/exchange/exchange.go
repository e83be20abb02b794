// Package exchange implements the HTTP Exchange from SPEC_FULL §4.3: a
// single object carrying parsed request metadata plus a write-side state
// machine for the response. Low-level HTTP/1.1 framing (request line,
// header folding, cookie jars) is treated as an external collaborator per
// spec.md §1 and delegated to net/http's parser; this package owns the
// keep-alive-aware pieces that parser doesn't provide: the
// pending→headers_sent→streaming→ended response state machine, chunked and
// SSE write framing, and an exact URI-length ceiling.
package exchange

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nowex35/mcpstreaming/transport/body"
	"github.com/nowex35/mcpstreaming/transport/conn"
)

// State is the response write-side state machine.
type State int

const (
	StatePending State = iota
	StateHeadersSent
	StateStreaming
	StateEnded
)

// Framing selects how the response body is delimited on the wire.
type Framing int

const (
	FramingContentLength Framing = iota
	FramingChunked
	FramingSSE
)

// ErrURITooLong is returned by New when the request URI exceeds the
// configured limit.
var ErrURITooLong = errors.New("URI too long")

// ErrEnded is returned by write operations after EndStream.
var ErrEnded = errors.New("exchange: stream already ended")

// ErrBodyTooLarge is returned by ReadBodyChunk once the request body exceeds
// the configured maximum.
var ErrBodyTooLarge = body.ErrBodyTooLarge

// Exchange binds one HTTP request to its response on a kept-alive
// connection. A Streaming Server worker constructs one per request and
// discards it before reading the next.
type Exchange struct {
	conn      *conn.Shared
	boundAddr string

	Method   string
	URI      string
	Protocol string
	Header   http.Header
	Cookies  []*http.Cookie

	bodyReader *body.Stream

	state       State
	framing     Framing
	status      int
	respHeader  http.Header
	writeStream *body.Stream
}

// New parses one request off br (a bufio.Reader bound to the connection's
// socket, shared across requests on a kept-alive connection) and returns an
// Exchange ready to read the body and write the response. It returns
// io.EOF verbatim when the peer closed the connection before sending
// another request, which the Streaming Server's keep-alive loop treats as a
// clean close.
func New(c *conn.Shared, br *bufio.Reader, boundAddr string, maxURILength int, maxBodySize int64) (*Exchange, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, err
	}
	if len(req.RequestURI) > maxURILength {
		_, _ = io.Copy(io.Discard, io.LimitReader(req.Body, 1<<20))
		return nil, ErrURITooLong
	}

	contentLength := int64(-1)
	if req.Header.Get("Content-Length") != "" {
		contentLength = req.ContentLength
	}

	e := &Exchange{
		conn:      c,
		boundAddr: boundAddr,
		Method:    req.Method,
		URI:       req.RequestURI,
		Protocol:  req.Proto,
		Header:    req.Header,
		Cookies:   req.Cookies(),
		status:    http.StatusOK,
		respHeader: http.Header{},
	}
	e.bodyReader = body.New(nil, bufio.NewReader(req.Body), nil, body.Config{
		ContentLength: contentLength,
		BufferSize:    32 * 1024,
		MaxBytes:      maxBodySize,
	})
	return e, nil
}

// KeepAlive reports whether the connection should stay open after this
// exchange, per the request's Connection header and protocol version.
func (e *Exchange) KeepAlive() bool {
	connHeader := e.Header.Get("Connection")
	if connHeader == "close" {
		return false
	}
	if e.Protocol == "HTTP/1.0" {
		return connHeader == "keep-alive"
	}
	return true
}

// ReadBodyChunk returns the next slice of the request body, or an empty
// slice once it is fully read.
func (e *Exchange) ReadBodyChunk() ([]byte, error) {
	return e.bodyReader.ReadChunk()
}

// BodyComplete reports whether the request body has been fully consumed.
func (e *Exchange) BodyComplete() bool {
	return e.bodyReader.Complete()
}

// SetStatus sets the response status code. Legal only while pending.
func (e *Exchange) SetStatus(code int) error {
	if e.state != StatePending {
		return fmt.Errorf("exchange: SetStatus after headers sent")
	}
	e.status = code
	return nil
}

// AddHeader adds a response header. Legal only while pending.
func (e *Exchange) AddHeader(key, value string) error {
	if e.state != StatePending {
		return fmt.Errorf("exchange: AddHeader after headers sent")
	}
	e.respHeader.Add(key, value)
	return nil
}

// SetFraming chooses how the response body will be delimited. Legal only
// while pending, since framing is frozen once headers are sent.
func (e *Exchange) SetFraming(f Framing) error {
	if e.state != StatePending {
		return fmt.Errorf("exchange: SetFraming after headers sent")
	}
	e.framing = f
	return nil
}

// SendHeaders writes the status line and response headers. It is
// idempotent: once headers_sent is set, further calls are no-ops, so a
// handler that calls WriteChunk without an explicit SendHeaders does not
// double-send the status line.
func (e *Exchange) SendHeaders() error {
	if e.state != StatePending {
		return nil
	}
	if e.framing == FramingChunked {
		e.respHeader.Set("Transfer-Encoding", "chunked")
	} else if e.framing == FramingContentLength {
		if e.respHeader.Get("Content-Length") == "" {
			e.respHeader.Set("Content-Length", "0")
		}
	}

	reason := http.StatusText(e.status)
	statusLine := fmt.Sprintf("%s %d %s\r\n", e.Protocol, e.status, reason)
	if _, err := e.conn.Write([]byte(statusLine)); err != nil {
		return err
	}
	if err := e.respHeader.Write(e.conn); err != nil {
		return err
	}
	if _, err := e.conn.Write([]byte("\r\n")); err != nil {
		return err
	}

	e.writeStream = body.New(e.conn, nil, nil, body.Config{Chunked: e.framing == FramingChunked})
	e.state = StateHeadersSent
	return nil
}

// StartSSEStream forces SSE response headers and framing, then sends
// headers immediately. Must be called before any WriteSSEEvent on this
// exchange.
func (e *Exchange) StartSSEStream() error {
	if e.state != StatePending {
		return fmt.Errorf("exchange: StartSSEStream after headers sent")
	}
	e.respHeader.Set("Content-Type", "text/event-stream")
	e.respHeader.Set("Cache-Control", "no-cache")
	e.respHeader.Set("Connection", "keep-alive")
	e.framing = FramingSSE
	return e.SendHeaders()
}

// WriteChunk writes body data, implicitly sending headers first if still
// pending. Returns ErrEnded once the exchange has reached the ended state.
func (e *Exchange) WriteChunk(data []byte) error {
	if e.state == StateEnded {
		return ErrEnded
	}
	if e.state == StatePending {
		if err := e.SendHeaders(); err != nil {
			return err
		}
	}
	e.state = StateStreaming
	return e.writeStream.WriteChunk(data)
}

// WriteSSEEvent writes one SSE record, implicitly sending headers first (as
// an SSE stream) if still pending.
func (e *Exchange) WriteSSEEvent(eventType, data string, id *uint64) error {
	if e.state == StateEnded {
		return ErrEnded
	}
	if e.state == StatePending {
		if err := e.StartSSEStream(); err != nil {
			return err
		}
	}
	e.state = StateStreaming
	return e.writeStream.WriteSSEEvent(eventType, data, id)
}

// EndStream emits the terminal chunk framing (if chunked) and transitions
// to the ended state; further writes return ErrEnded.
func (e *Exchange) EndStream() error {
	if e.state == StateEnded {
		return nil
	}
	if e.state == StatePending {
		if err := e.SendHeaders(); err != nil {
			return err
		}
	}
	var err error
	if e.writeStream != nil {
		err = e.writeStream.EndStream()
	}
	e.state = StateEnded
	return err
}

// Teardown releases the underlying connection. Safe to call multiple
// times; only the first owning call actually closes the socket.
func (e *Exchange) Teardown() error {
	return e.conn.Teardown()
}

// Read exposes the underlying connection for callers that need to detect
// peer disconnect on an otherwise idle long-lived response, such as an SSE
// stream waiting for the client to go away.
func (e *Exchange) Read(p []byte) (int, error) {
	return e.conn.Read(p)
}

// State exposes the current response state, mostly for tests.
func (e *Exchange) State() State { return e.state }

// BoundAddr returns the local address the listener is bound to.
func (e *Exchange) BoundAddr() string { return e.boundAddr }

// RemoteAddr identifies the underlying connection, stable across every
// request on the same kept-alive connection. Callers that need a
// per-connection identity (e.g. the MCP dispatcher's connection state
// machine) should key on this rather than BoundAddr, which is shared by
// every connection the listener accepts.
func (e *Exchange) RemoteAddr() string {
	if addr := e.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
