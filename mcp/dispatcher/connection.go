// Package dispatcher implements the MCP Dispatcher from SPEC_FULL §4.8: the
// per-connection protocol state machine (connecting -> initializing ->
// ready), initialize/tools routing, capability negotiation, and the
// transport-level request handling (CORS, response-mode selection, SSE)
// from spec.md §6. It is grounded on the teacher's
// transport/server/base/handler.go connection bookkeeping and
// transport/server/http/server.go's request routing, adapted from the
// teacher's bidirectional-RPC client/server model to this spec's
// server-only tool-serving model.
package dispatcher

import (
	"sync"
)

// State is a connection's position in the MCP handshake state machine.
type State int

const (
	StateConnecting State = iota
	StateInitializing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Capabilities is the feature-flag vector negotiated during initialize.
// Each field is the boolean AND of the server's and client's advertised
// support, per spec.md §8's "negotiated capability vector" invariant.
type Capabilities struct {
	Tools     bool
	Resources bool
	Prompts   bool
	Logging   bool
	Roots     bool
	Sampling  bool
}

// And computes the capability-wise intersection of two vectors.
func (c Capabilities) And(other Capabilities) Capabilities {
	return Capabilities{
		Tools:     c.Tools && other.Tools,
		Resources: c.Resources && other.Resources,
		Prompts:   c.Prompts && other.Prompts,
		Logging:   c.Logging && other.Logging,
		Roots:     c.Roots && other.Roots,
		Sampling:  c.Sampling && other.Sampling,
	}
}

// ClientInfo mirrors the clientInfo object sent in initialize params.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Connection is an MCP Connection record: one per connection ID the HTTP
// layer passes in (the peer address of the underlying HTTP connection).
type Connection struct {
	mu sync.Mutex

	ID                     string
	State                  State
	ProtocolVersion        string
	ClientInfo             ClientInfo
	NegotiatedCapabilities Capabilities
	SessionID              string
}

func newConnection(id string) *Connection {
	return &Connection{ID: id, State: StateConnecting}
}

func (c *Connection) snapshotState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

// registry is the Dispatcher's mutex-guarded map of live Connections,
// keyed by connection ID, substituting for per-worker isolation per
// SPEC_FULL §5.
type registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func newRegistry() *registry {
	return &registry{connections: map[string]*Connection{}}
}

func (r *registry) getOrCreate(id string) *Connection {
	r.mu.RLock()
	c, ok := r.connections[id]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[id]; ok {
		return c
	}
	c = newConnection(id)
	r.connections[id] = c
	return c
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.connections, id)
	r.mu.Unlock()
}
