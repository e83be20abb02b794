package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/mcp/tool"
	"github.com/nowex35/mcpstreaming/session"
	"github.com/nowex35/mcpstreaming/timeout"
)

// ServerInfo identifies this server in the initialize result, per
// SPEC_FULL §6.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Dispatcher routes JSON-RPC requests and notifications per connection,
// enforcing the handshake state machine and wiring the Session, Timeout,
// and Tool Registry components together.
type Dispatcher struct {
	ServerInfo         ServerInfo
	ServerCapabilities Capabilities

	Sessions *session.Manager
	Timeouts *timeout.Manager
	Tools    *tool.Registry

	conns *registry
}

// New constructs a Dispatcher wired to the given components.
func New(info ServerInfo, caps Capabilities, sessions *session.Manager, timeouts *timeout.Manager, tools *tool.Registry) *Dispatcher {
	return &Dispatcher{
		ServerInfo:         info,
		ServerCapabilities: caps,
		Sessions:           sessions,
		Timeouts:           timeouts,
		Tools:              tools,
		conns:              newRegistry(),
	}
}

// initializeParams mirrors the initialize request's params object.
type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

// clientCapsToVector converts the loosely-typed capabilities object a
// client sends into our fixed Capabilities vector: presence of a key (any
// value, including an empty object) counts as "supported".
func clientCapsToVector(m map[string]interface{}) Capabilities {
	_, tools := m["tools"]
	_, resources := m["resources"]
	_, prompts := m["prompts"]
	_, logging := m["logging"]
	_, roots := m["roots"]
	_, sampling := m["sampling"]
	return Capabilities{
		Tools: tools, Resources: resources, Prompts: prompts,
		Logging: logging, Roots: roots, Sampling: sampling,
	}
}

func capsToJSON(c Capabilities) map[string]interface{} {
	out := map[string]interface{}{}
	if c.Tools {
		out["tools"] = map[string]interface{}{"listChanged": false}
	}
	if c.Resources {
		out["resources"] = map[string]interface{}{}
	}
	if c.Prompts {
		out["prompts"] = map[string]interface{}{}
	}
	if c.Logging {
		out["logging"] = map[string]interface{}{}
	}
	if c.Roots {
		out["roots"] = map[string]interface{}{}
	}
	if c.Sampling {
		out["sampling"] = map[string]interface{}{}
	}
	return out
}

// HandleRequest routes one JSON-RPC request for the connection identified
// by connID. sessionID is whatever Mcp-Session-Id the client sent, or ""
// if none; the returned string is the session ID the response should carry
// (a freshly created one on initialize, or the input unchanged).
func (d *Dispatcher) HandleRequest(connID string, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, string) {
	conn := d.conns.getOrCreate(connID)

	if req.Method == "initialize" {
		return d.handleInitialize(conn, sessionID, req)
	}

	conn.mu.Lock()
	state := conn.State
	conn.mu.Unlock()
	if state != StateReady {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewNotInitialized()), sessionID
	}

	if sessionID != "" {
		_ = d.Sessions.UpdateActivity(sessionID)
	}

	switch req.Method {
	case "tools/list":
		return d.handleToolsList(req), sessionID
	case "tools/call":
		return d.handleToolsCall(req), sessionID
	default:
		if isUnimplementedNamespace(req.Method) {
			return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewError(jsonrpc.MethodNotFound, fmt.Sprintf("%s not implemented", req.Method), nil)), sessionID
		}
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewError(jsonrpc.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)), sessionID
	}
}

func isUnimplementedNamespace(method string) bool {
	for _, prefix := range []string{"resources/", "prompts/"} {
		if len(method) >= len(prefix) && method[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleInitialize(conn *Connection, sessionID string, req *jsonrpc.Request) (*jsonrpc.Response, string) {
	conn.mu.Lock()
	alreadyInitialized := conn.State != StateConnecting
	conn.mu.Unlock()
	if alreadyInitialized {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewAlreadyInitialized()), sessionID
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewError(jsonrpc.InvalidParams, err.Error(), nil)), sessionID
		}
	}
	if params.ProtocolVersion != jsonrpc.ProtocolVersion {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewUnsupportedProtocolVersion(params.ProtocolVersion)), sessionID
	}

	negotiated := d.ServerCapabilities.And(clientCapsToVector(params.Capabilities))

	conn.mu.Lock()
	conn.State = StateInitializing
	conn.ProtocolVersion = params.ProtocolVersion
	conn.ClientInfo = params.ClientInfo
	conn.NegotiatedCapabilities = negotiated
	conn.mu.Unlock()

	if sessionID == "" && d.Sessions != nil {
		clientInfoJSON, _ := json.Marshal(params.ClientInfo)
		s := d.Sessions.CreateSession(conn.ID, clientInfoJSON, 0)
		sessionID = s.ID
		conn.mu.Lock()
		conn.SessionID = sessionID
		conn.mu.Unlock()
	}

	result := map[string]interface{}{
		"protocolVersion": jsonrpc.ProtocolVersion,
		"capabilities":    capsToJSON(negotiated),
		"serverInfo":      d.ServerInfo,
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewInternalError(err)), sessionID
	}
	return jsonrpc.NewResponse(req.Id, raw), sessionID
}

func (d *Dispatcher) handleToolsList(req *jsonrpc.Request) *jsonrpc.Response {
	defs := d.Tools.ListEnabled()
	tools := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, map[string]interface{}{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema(),
		})
	}
	raw, err := json.Marshal(map[string]interface{}{"tools": tools})
	if err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewInternalError(err))
	}
	return jsonrpc.NewResponse(req.Id, raw)
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(req *jsonrpc.Request) *jsonrpc.Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewError(jsonrpc.InvalidParams, err.Error(), nil))
	}
	result, err := d.Tools.ExecuteTool(context.Background(), params.Name, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewToolExecutionFailed(err.Error()))
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.Id, jsonrpc.NewInternalError(err))
	}
	return jsonrpc.NewResponse(req.Id, raw)
}

// HandleNotification processes a fire-and-forget JSON-RPC notification:
// "initialized" promotes the connection to ready; notifications/progress
// and notifications/cancelled drive the Timeout Manager.
func (d *Dispatcher) HandleNotification(connID string, n *jsonrpc.Notification) {
	conn := d.conns.getOrCreate(connID)
	switch n.Method {
	case "initialized":
		conn.mu.Lock()
		if conn.State == StateInitializing {
			conn.State = StateReady
		}
		conn.mu.Unlock()
	case "notifications/progress":
		var p struct {
			RequestId string `json:"requestId"`
		}
		if json.Unmarshal(n.Params, &p) == nil && p.RequestId != "" && d.Timeouts != nil {
			d.Timeouts.UpdateProgress(p.RequestId)
		}
	case "notifications/cancelled":
		var p struct {
			RequestId string `json:"requestId"`
		}
		if json.Unmarshal(n.Params, &p) == nil && p.RequestId != "" && d.Timeouts != nil {
			d.Timeouts.CancelRequest(p.RequestId)
		}
	}
}

// CloseConnection removes a connection's tracked state, for worker
// teardown.
func (d *Dispatcher) CloseConnection(connID string) {
	d.conns.remove(connID)
}
