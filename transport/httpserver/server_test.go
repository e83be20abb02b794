package httpserver

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/transport/exchange"
)

func startTestServer(t *testing.T, h Handler) string {
	t.Helper()
	cfg := DefaultConfig("127.0.0.1:0")
	srv := New(cfg, h, jsonrpc.NopLogger{})

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln
	go func() { _ = srv.serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return ln.Addr().String()
}

func TestServer_SimpleRequestResponse(t *testing.T) {
	addr := startTestServer(t, func(ex *exchange.Exchange) {
		_ = ex.SetStatus(200)
		_ = ex.AddHeader("Content-Type", "text/plain")
		_ = ex.AddHeader("Content-Length", "2")
		_ = ex.WriteChunk([]byte("ok"))
	})

	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, _ = c.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestServer_KeepAliveServesMultipleRequests(t *testing.T) {
	count := 0
	addr := startTestServer(t, func(ex *exchange.Exchange) {
		count++
		_ = ex.SetStatus(200)
		_ = ex.AddHeader("Content-Length", "1")
		_ = ex.WriteChunk([]byte("x"))
	})

	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	br := bufio.NewReader(c)
	for i := 0; i < 2; i++ {
		_, _ = c.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("request %d: got status %d", i, resp.StatusCode)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if count != 2 {
		t.Fatalf("handler invoked %d times, want 2", count)
	}
}

func TestIsCleanClose(t *testing.T) {
	cases := []struct {
		msg   string
		clean bool
	}{
		{"read: connection reset by peer", false},
		{"use of closed network connection", true},
		{"EOF", true},
		{"bad file descriptor, invalid descriptor", true},
	}
	for _, tc := range cases {
		err := errString(tc.msg)
		if got := isCleanClose(err); got != tc.clean {
			t.Errorf("isCleanClose(%q) = %v, want %v", tc.msg, got, tc.clean)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x")
	if cfg.MaxConcurrentConnections <= 0 || cfg.MaxRequestBodySize <= 0 {
		t.Fatalf("unexpected zero defaults: %+v", cfg)
	}
	if strings.Contains(cfg.Name, " ") {
		t.Fatalf("unexpected name format: %q", cfg.Name)
	}
}
