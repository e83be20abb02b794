package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/mcp/tool"
	"github.com/nowex35/mcpstreaming/session"
	"github.com/nowex35/mcpstreaming/timeout"
)

func newTestDispatcher() *Dispatcher {
	tools := tool.NewRegistry(tool.DefaultConfig())
	_ = tools.RegisterTool(tool.Definition{
		Name:            "echo",
		ParameterSchema: map[string]tool.ParamSchema{"message": {Type: tool.TypeString, Required: true}},
		RequiredParams:  []string{"message"},
		Enabled:         true,
		Execute: func(ctx context.Context, args tool.Args) (*tool.Result, error) {
			msg, _ := args.GetString("message")
			return &tool.Result{Content: []tool.Content{tool.TextContent("Echo: " + msg)}}, nil
		},
	})
	return New(
		ServerInfo{Name: "s", Version: "1.0"},
		Capabilities{Tools: true},
		session.NewManager(0, 0),
		timeout.NewManager(timeout.DefaultConfig()),
		tools,
	)
}

func initializeRequest(id string) *jsonrpc.Request {
	params, _ := json.Marshal(map[string]interface{}{
		"protocolVersion": jsonrpc.ProtocolVersion,
		"clientInfo":      map[string]string{"name": "c", "version": "1.0"},
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
	})
	return &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: id, Method: "initialize", Params: params}
}

func TestDispatcher_HappyInitialize(t *testing.T) {
	d := newTestDispatcher()
	resp, sessionID := d.HandleRequest("conn-1", "", initializeRequest("1"))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if sessionID == "" {
		t.Fatalf("expected a session to be created")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["protocolVersion"] != jsonrpc.ProtocolVersion {
		t.Fatalf("got %v, want %v", result["protocolVersion"], jsonrpc.ProtocolVersion)
	}
	caps, _ := result["capabilities"].(map[string]interface{})
	if _, ok := caps["tools"]; !ok {
		t.Fatalf("expected tools capability to be negotiated on, got %+v", caps)
	}
}

func TestDispatcher_VersionMismatch(t *testing.T) {
	d := newTestDispatcher()
	params, _ := json.Marshal(map[string]interface{}{
		"protocolVersion": "2024-01-01",
		"clientInfo":      map[string]string{"name": "c", "version": "1.0"},
		"capabilities":    map[string]interface{}{},
	})
	req := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "1", Method: "initialize", Params: params}

	resp, _ := d.HandleRequest("conn-1", "", req)
	if resp.Error == nil || resp.Error.Code != jsonrpc.UnsupportedProtocolVer {
		t.Fatalf("got %+v, want UnsupportedProtocolVer", resp.Error)
	}
}

func TestDispatcher_DoubleInitializeFails(t *testing.T) {
	d := newTestDispatcher()
	_, sessionID := d.HandleRequest("conn-1", "", initializeRequest("1"))
	resp, _ := d.HandleRequest("conn-1", sessionID, initializeRequest("2"))
	if resp.Error == nil || resp.Error.Code != jsonrpc.AlreadyInitialized {
		t.Fatalf("got %+v, want AlreadyInitialized", resp.Error)
	}
}

func TestDispatcher_RequestBeforeInitializeFails(t *testing.T) {
	d := newTestDispatcher()
	req := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "1", Method: "tools/list"}
	resp, _ := d.HandleRequest("conn-1", "", req)
	if resp.Error == nil || resp.Error.Code != jsonrpc.NotInitialized {
		t.Fatalf("got %+v, want NotInitialized", resp.Error)
	}
}

func TestDispatcher_RequestDuringInitializingFails(t *testing.T) {
	d := newTestDispatcher()
	_, sessionID := d.HandleRequest("conn-1", "", initializeRequest("1"))
	// "initialized" has not been sent yet, so the connection is still
	// initializing, not ready.
	req := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "2", Method: "tools/list"}
	resp, _ := d.HandleRequest("conn-1", sessionID, req)
	if resp.Error == nil || resp.Error.Code != jsonrpc.NotInitialized {
		t.Fatalf("got %+v, want NotInitialized", resp.Error)
	}
}

func TestDispatcher_ToolsListAndCallAfterReady(t *testing.T) {
	d := newTestDispatcher()
	_, sessionID := d.HandleRequest("conn-1", "", initializeRequest("1"))
	d.HandleNotification("conn-1", &jsonrpc.Notification{Jsonrpc: jsonrpc.Version, Method: "initialized"})

	listReq := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "2", Method: "tools/list"}
	listResp, _ := d.HandleRequest("conn-1", sessionID, listReq)
	if listResp.Error != nil {
		t.Fatalf("tools/list failed: %+v", listResp.Error)
	}
	var listed struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	if err := json.Unmarshal(listResp.Result, &listed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listed.Tools) != 1 || listed.Tools[0]["name"] != "echo" {
		t.Fatalf("got %+v, want one tool named echo", listed.Tools)
	}

	callParams, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]string{"message": "hi"}})
	callReq := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "3", Method: "tools/call", Params: callParams}
	callResp, _ := d.HandleRequest("conn-1", sessionID, callReq)
	if callResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", callResp.Error)
	}
	var result tool.Result
	if err := json.Unmarshal(callResp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Echo: hi" {
		t.Fatalf("got %+v, want Echo: hi", result.Content)
	}
}

func TestDispatcher_UnimplementedNamespace(t *testing.T) {
	d := newTestDispatcher()
	_, sessionID := d.HandleRequest("conn-1", "", initializeRequest("1"))
	d.HandleNotification("conn-1", &jsonrpc.Notification{Jsonrpc: jsonrpc.Version, Method: "initialized"})
	req := &jsonrpc.Request{Jsonrpc: jsonrpc.Version, Id: "2", Method: "resources/list"}
	resp, _ := d.HandleRequest("conn-1", sessionID, req)
	if resp.Error == nil || resp.Error.Code != jsonrpc.MethodNotFound {
		t.Fatalf("got %+v, want MethodNotFound", resp.Error)
	}
}
