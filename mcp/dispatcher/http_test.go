package dispatcher

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/nowex35/mcpstreaming/origin"
	"github.com/nowex35/mcpstreaming/transport/conn"
	"github.com/nowex35/mcpstreaming/transport/exchange"
)

func roundTrip(t *testing.T, srv *Server, rawRequest string) *http.Response {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close(); _ = clientSide.Close() })

	go func() { _, _ = clientSide.Write([]byte(rawRequest)) }()

	c := conn.New(serverSide)
	br := bufio.NewReader(c)
	ex, err := exchange.New(c, br, "127.0.0.1:8080", 8192, 0)
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}

	done := make(chan *http.Response, 1)
	go func() {
		raw, _ := io.ReadAll(clientSide)
		resp, rerr := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
		if rerr != nil {
			t.Errorf("read response: %v", rerr)
			done <- nil
			return
		}
		done <- resp
	}()

	srv.Handle(ex)
	_ = ex.EndStream()
	_ = serverSide.Close()
	return <-done
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{}))
	resp := roundTrip(t, srv, "GET /health HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
}

func TestServer_OptionsReturnsCORS(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{}))
	resp := roundTrip(t, srv, "OPTIONS /mcp HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 204 {
		t.Fatalf("got %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected CORS headers on OPTIONS response")
	}
}

func TestServer_PostInitializeReturnsJSON(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{}))
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"c","version":"1.0"},"capabilities":{}}}`
	req := "POST /mcp HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\nAccept: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nConnection: close\r\n\r\n" + body

	resp := roundTrip(t, srv, req)
	if resp.StatusCode != 200 {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("got content-type %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Fatalf("expected a session id header on initialize response")
	}
}

func TestServer_BadContentTypeReturns400(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{}))
	body := `{}`
	req := "POST /mcp HTTP/1.1\r\nHost: localhost\r\nContent-Type: text/plain\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nConnection: close\r\n\r\n" + body
	resp := roundTrip(t, srv, req)
	if resp.StatusCode != 400 {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}

func TestServer_OriginDeniedReturns403(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{Enabled: true}))
	body := `{}`
	req := "POST /mcp HTTP/1.1\r\nHost: localhost\r\nOrigin: https://evil.example.com\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nConnection: close\r\n\r\n" + body
	resp := roundTrip(t, srv, req)
	if resp.StatusCode != 403 {
		t.Fatalf("got %d, want 403", resp.StatusCode)
	}
}

func TestServer_UnknownPathReturns404(t *testing.T) {
	srv := NewServer(newTestDispatcher(), origin.NewValidator(origin.Config{}))
	resp := roundTrip(t, srv, "GET /nope HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	if resp.StatusCode != 404 {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

func TestAcceptsSSEFirst(t *testing.T) {
	if !acceptsSSEFirst("text/event-stream, application/json") {
		t.Fatalf("expected SSE-first Accept header to select SSE")
	}
	if acceptsSSEFirst("application/json, text/event-stream") {
		t.Fatalf("expected JSON-first Accept header to not select SSE")
	}
}
