package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/origin"
	"github.com/nowex35/mcpstreaming/transport/exchange"
)

// Server binds a Dispatcher to the HTTP-level contract from spec.md §6:
// path routing, CORS, Accept/Content-Type enforcement, origin validation,
// and response-mode selection between a single JSON body and an SSE
// stream. It is the Handler a httpserver.Server is constructed with.
type Server struct {
	Dispatcher *Dispatcher
	Origin     *origin.Validator
}

// NewServer constructs a Server wrapping d. The request body size limit is
// configured upstream by httpserver.Config.MaxRequestBodySize; a POST body
// over that limit is answered with 413.
func NewServer(d *Dispatcher, originValidator *origin.Validator) *Server {
	return &Server{Dispatcher: d, Origin: originValidator}
}

// corsHeaders writes the CORS response headers spec.md §6 requires on every
// /mcp response.
func (s *Server) corsHeaders(ex *exchange.Exchange, requestOrigin string) {
	allow := requestOrigin
	if allow == "" {
		allow = "*"
	}
	_ = ex.AddHeader("Access-Control-Allow-Origin", allow)
	_ = ex.AddHeader("Access-Control-Allow-Methods", "POST, OPTIONS")
	_ = ex.AddHeader("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
	_ = ex.AddHeader("Access-Control-Max-Age", "86400")
	_ = ex.AddHeader("Cache-Control", "no-cache, no-store, must-revalidate")
}

func (s *Server) writeJSONError(ex *exchange.Exchange, status int, message string) {
	_ = ex.SetStatus(status)
	_ = ex.AddHeader("Content-Type", "text/plain")
	_ = ex.AddHeader("Content-Length", strconv.Itoa(len(message)))
	_ = ex.WriteChunk([]byte(message))
}

// Handle implements httpserver.Handler: it is invoked once per request on a
// kept-alive connection.
func (s *Server) Handle(ex *exchange.Exchange) {
	connID := ex.RemoteAddr()
	requestOrigin := ex.Header.Get("Origin")

	switch {
	case ex.Method == "OPTIONS":
		s.corsHeaders(ex, requestOrigin)
		_ = ex.SetStatus(204)
		_ = ex.WriteChunk(nil)
		return
	case ex.URI == "/health" || strings.HasPrefix(ex.URI, "/health?"):
		s.handleHealth(ex)
		return
	}

	if s.Origin != nil && !s.Origin.Validate(requestOrigin) {
		s.corsHeaders(ex, requestOrigin)
		s.writeJSONError(ex, 403, "origin not allowed")
		return
	}
	s.corsHeaders(ex, requestOrigin)

	path := ex.URI
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	switch {
	case ex.Method == "POST" && (path == "/mcp" || path == "/"):
		s.handlePost(ex, connID)
	case ex.Method == "GET" && (path == "/mcp" || path == "/sse"):
		s.handleSSE(ex, connID)
	default:
		s.writeJSONError(ex, 404, "not found")
	}
}

func (s *Server) handleHealth(ex *exchange.Exchange) {
	body := `{"status":"healthy","service":"mcp-streaming"}`
	_ = ex.SetStatus(200)
	_ = ex.AddHeader("Content-Type", "application/json")
	_ = ex.AddHeader("Content-Length", strconv.Itoa(len(body)))
	_ = ex.WriteChunk([]byte(body))
}

// acceptsSSEFirst reports whether the Accept header lists text/event-stream
// before application/json, per spec.md §6's response-mode rule.
func acceptsSSEFirst(accept string) bool {
	ssIdx, jsIdx := -1, -1
	for i, part := range strings.Split(accept, ",") {
		p := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if ssIdx == -1 && p == "text/event-stream" {
			ssIdx = i
		}
		if jsIdx == -1 && p == "application/json" {
			jsIdx = i
		}
	}
	return ssIdx != -1 && (jsIdx == -1 || ssIdx < jsIdx)
}

func (s *Server) handlePost(ex *exchange.Exchange, connID string) {
	contentType := ex.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		s.writeJSONError(ex, 400, "Content-Type must be application/json")
		return
	}
	if accept := ex.Header.Get("Accept"); accept != "" {
		if !strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "*/*") {
			s.writeJSONError(ex, 406, "Accept header must allow application/json or text/event-stream")
			return
		}
	}

	var body strings.Builder
	for {
		chunk, err := ex.ReadBodyChunk()
		if len(chunk) > 0 {
			body.Write(chunk)
		}
		if errors.Is(err, exchange.ErrBodyTooLarge) {
			s.writeJSONError(ex, 413, "request body too large")
			return
		}
		if err != nil || ex.BodyComplete() {
			break
		}
	}
	raw := []byte(body.String())

	sessionID := ex.Header.Get("Mcp-Session-Id")
	useSSE := len(raw) > 0 && raw[0] == '[' || acceptsSSEFirst(ex.Header.Get("Accept"))

	if len(raw) > 0 && raw[0] == '[' {
		s.handleBatch(ex, connID, sessionID, raw, useSSE)
		return
	}

	msg, parseErr := jsonrpc.Parse(raw)
	if parseErr != nil {
		s.writeSingleResponse(ex, sessionID, jsonrpc.NewErrorResponse("", parseErr), false)
		return
	}

	switch msg.Type {
	case jsonrpc.MessageTypeNotification:
		s.Dispatcher.HandleNotification(connID, msg.Notification)
		_ = ex.SetStatus(202)
		_ = ex.AddHeader("Content-Length", "0")
		_ = ex.WriteChunk(nil)
	case jsonrpc.MessageTypeRequest:
		resp, newSessionID := s.Dispatcher.HandleRequest(connID, sessionID, msg.Request)
		s.writeSingleResponse(ex, newSessionID, resp, useSSE)
	default:
		s.writeJSONError(ex, 400, "unexpected response-shaped message on request path")
	}
}

func (s *Server) handleBatch(ex *exchange.Exchange, connID, sessionID string, raw []byte, useSSE bool) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		s.writeSingleResponse(ex, sessionID, jsonrpc.NewErrorResponse("", jsonrpc.NewParseError(err)), useSSE)
		return
	}

	var responses []*jsonrpc.Response
	for _, item := range rawItems {
		msg, parseErr := jsonrpc.Parse(item)
		if parseErr != nil {
			responses = append(responses, jsonrpc.NewErrorResponse("", parseErr))
			continue
		}
		switch msg.Type {
		case jsonrpc.MessageTypeNotification:
			s.Dispatcher.HandleNotification(connID, msg.Notification)
		case jsonrpc.MessageTypeRequest:
			resp, newSessionID := s.Dispatcher.HandleRequest(connID, sessionID, msg.Request)
			if newSessionID != "" {
				sessionID = newSessionID
			}
			responses = append(responses, resp)
		}
	}

	batchJSON, err := json.Marshal(jsonrpc.BatchResponse(responses))
	if err != nil {
		s.writeJSONError(ex, 500, "internal error encoding batch response")
		return
	}

	if sessionID != "" {
		_ = ex.AddHeader("Mcp-Session-Id", sessionID)
	}
	_ = ex.StartSSEStream()
	_ = ex.WriteSSEEvent("message", string(batchJSON), nil)
	_ = ex.EndStream()
}

func (s *Server) writeSingleResponse(ex *exchange.Exchange, sessionID string, resp *jsonrpc.Response, useSSE bool) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.writeJSONError(ex, 500, "internal error encoding response")
		return
	}
	if sessionID != "" {
		_ = ex.AddHeader("Mcp-Session-Id", sessionID)
	}
	if useSSE {
		_ = ex.StartSSEStream()
		_ = ex.WriteSSEEvent("message", string(raw), nil)
		_ = ex.EndStream()
		return
	}
	_ = ex.SetStatus(200)
	_ = ex.AddHeader("Content-Type", "application/json")
	_ = ex.AddHeader("Content-Length", strconv.Itoa(len(raw)))
	_ = ex.WriteChunk(raw)
}

// handleSSE opens a long-lived SSE stream, replaying any buffered events
// for the session after Last-Event-ID before emitting a reconnect event,
// per spec.md §8 scenario 5. It never returns until the peer disconnects;
// the Streaming Server's keep-alive loop relies on that to not attempt
// another request on the same connection.
func (s *Server) handleSSE(ex *exchange.Exchange, connID string) {
	sessionID := ex.Header.Get("Mcp-Session-Id")
	var lastEventID uint64
	if v := ex.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastEventID = n
		}
	}

	if err := ex.StartSSEStream(); err != nil {
		return
	}

	sess, err := s.Dispatcher.Sessions.GetSession(sessionID)
	if err == nil {
		for _, ev := range sess.EventsAfter(lastEventID) {
			id := ev.ID
			if werr := ex.WriteSSEEvent(ev.EventType, ev.Data, &id); werr != nil {
				return
			}
		}
		if lastEventID > 0 {
			eventID := sess.GenerateEventID()
			n, _ := parseTrailingEventCounter(eventID)
			_ = ex.WriteSSEEvent("reconnect", fmt.Sprintf(`{"session_id":%q}`, sess.ID), &n)
		}
	}

	// The connection stays open for further server-pushed events until the
	// peer disconnects; reads here only detect that disconnect.
	buf := make([]byte, 1)
	for {
		if _, rerr := io.ReadFull(ex, buf); rerr != nil {
			return
		}
	}
}

func parseTrailingEventCounter(formatted string) (uint64, error) {
	idx := strings.LastIndexByte(formatted, '-')
	if idx < 0 {
		return 0, fmt.Errorf("malformed event id %q", formatted)
	}
	return strconv.ParseUint(formatted[idx+1:], 10, 64)
}
