// Package httpserver implements the Streaming Server from SPEC_FULL §4.4:
// the accept loop and per-connection keep-alive loop. It is deliberately
// built directly on net.Listener/net.Conn rather than net/http.Server — see
// SPEC_FULL §4.0 for why: the spec's Exchange state machine and manual
// chunked/SSE framing need control net/http does not expose.
//
// The concurrency model is one goroutine per accepted connection (Go's
// substitute for the spec's "one worker per connection", which in a
// fork-capable runtime would be an OS process). Workers share no mutable
// state; within a worker, requests are processed strictly sequentially.
package httpserver

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nowex35/mcpstreaming/internal/util"
	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/transport/conn"
	"github.com/nowex35/mcpstreaming/transport/exchange"
)

// Handler processes one exchange. Implementations read the request body
// off ex and drive the response; the keep-alive loop calls it once per
// request on a connection.
type Handler func(ex *exchange.Exchange)

// Config enumerates the Streaming Server's configuration, per SPEC_FULL
// §4.4.
type Config struct {
	Name                     string
	Address                  string
	MaxConcurrentConnections int
	MaxRequestsPerConnection int // 0 = unlimited
	MaxRequestBodySize       int64
	MaxRequestURILength      int
	TCPKeepAlive             bool
}

// DefaultConfig returns sane defaults matching the MCP streaming transport's
// typical deployment.
func DefaultConfig(address string) Config {
	return Config{
		Name:                     "mcp-streaming",
		Address:                  address,
		MaxConcurrentConnections: 1024,
		MaxRequestsPerConnection: 0,
		MaxRequestBodySize:       10 << 20,
		MaxRequestURILength:      8192,
		TCPKeepAlive:             true,
	}
}

// Server is the accept loop.
type Server struct {
	cfg     Config
	handler Handler
	logger  jsonrpc.Logger

	listener net.Listener
	active   int64
	closing  atomic.Bool
}

// New constructs a Server. handler is invoked for every request on every
// accepted connection.
func New(cfg Config, handler Handler, logger jsonrpc.Logger) *Server {
	if logger == nil {
		logger = jsonrpc.DefaultLogger
	}
	return &Server{cfg: cfg, handler: handler, logger: logger}
}

// ListenAndServe binds the configured address and runs the accept loop
// until Close is called or a fatal listener error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	for {
		util.ReapZombies()

		if s.cfg.MaxConcurrentConnections > 0 && atomic.LoadInt64(&s.active) >= int64(s.cfg.MaxConcurrentConnections) {
			// Backpressure: accept and immediately close rather than
			// refusing the OS-level accept queue, so well-behaved clients
			// get a clean connection reset instead of a connect timeout.
			raw, err := ln.Accept()
			if err != nil {
				if s.closing.Load() {
					return nil
				}
				continue
			}
			_ = raw.Close()
			continue
		}

		raw, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			s.logger.Errorf("accept: %v", err)
			continue
		}
		if tc, ok := raw.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(s.cfg.TCPKeepAlive)
		}

		shared := conn.New(raw)
		atomic.AddInt64(&s.active, 1)
		go s.runWorker(shared)
		// The accept loop keeps no reference to the connection; the worker
		// goroutine owns the handle and is the only caller of Teardown.
	}
}

// Close stops the accept loop. Already-accepted connections are not
// terminated: their workers keep serving requests until the peer closes.
func (s *Server) Close() error {
	s.closing.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// ActiveConnections reports the number of connections currently being
// served, for tests and health reporting.
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.active)
}

func (s *Server) runWorker(c *conn.Shared) {
	defer atomic.AddInt64(&s.active, -1)
	defer func() { _ = c.Teardown() }()

	br := bufio.NewReader(c)
	requests := 0
	for {
		if s.cfg.MaxRequestsPerConnection > 0 && requests >= s.cfg.MaxRequestsPerConnection {
			return
		}

		ex, err := exchange.New(c, br, s.cfg.Address, s.cfg.MaxRequestURILength, s.cfg.MaxRequestBodySize)
		if err != nil {
			if isCleanClose(err) {
				return
			}
			if errors.Is(err, exchange.ErrURITooLong) {
				s.writeSimpleError(c, 414, "URI too long")
				return
			}
			s.logger.Debugf("worker: read request: %v", err)
			return
		}

		requests++
		// The handler reads the body itself via ex.ReadBodyChunk; once it
		// exceeds cfg.MaxRequestBodySize every further read returns
		// exchange.ErrBodyTooLarge, which the handler is expected to turn
		// into a 413 response before returning.
		s.handler(ex)

		keepAlive := ex.KeepAlive()
		// Drain any unread body so the next request on this connection
		// parses cleanly off the same byte stream. A still-oversized body
		// at this point means the handler didn't consume it; the
		// connection can't be reused since its framing is unresolved.
		for !ex.BodyComplete() {
			if _, err := ex.ReadBodyChunk(); err != nil {
				keepAlive = false
				break
			}
		}
		_ = ex.EndStream()

		if !keepAlive {
			return
		}
	}
}

func (s *Server) writeSimpleError(c *conn.Shared, code int, message string) {
	body := message
	resp := "HTTP/1.1 " + strconv.Itoa(code) + " " + message + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body
	_, _ = c.Write([]byte(resp))
}

// isCleanClose reports whether err represents the peer closing the
// connection rather than a genuine transport failure, per SPEC_FULL §4.4's
// substring match list.
func isCleanClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"EOF", "closed", "invalid descriptor", "not associated with a socket"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
