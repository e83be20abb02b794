package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RequestId is always stored as a string on this server: numeric ids accepted
// on the wire are stringified on parse so downstream code (session matching,
// timeout tracking) never has to special-case the JSON number/string split.
type RequestId = string

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code, message and optional data.
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Request is a JSON-RPC 2.0 request: it carries an id and expects a Response.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 message with no id: no Response is expected.
type Notification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error, per JSON-RPC 2.0.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds a successful Response wrapping raw result data.
func NewResponse(id RequestId, result json.RawMessage) *Response {
	return &Response{Jsonrpc: Version, Id: id, Result: result}
}

// NewErrorResponse builds an error Response.
func NewErrorResponse(id RequestId, err *Error) *Response {
	return &Response{Jsonrpc: Version, Id: id, Error: err}
}

// MarshalJSON enforces the wire shape from SPEC_FULL §4.5: a response carries
// exactly one of "result" or "error", never both, and id is always a string.
func (r *Response) MarshalJSON() ([]byte, error) {
	type alias struct {
		Jsonrpc string          `json:"jsonrpc"`
		Id      RequestId       `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
	}
	a := alias{Jsonrpc: r.Jsonrpc, Id: r.Id}
	if r.Error != nil {
		a.Error = r.Error
	} else {
		a.Result = r.Result
		if a.Result == nil {
			a.Result = json.RawMessage("null")
		}
	}
	return json.Marshal(a)
}

// MessageType enumerates the shapes a raw JSON-RPC payload can take.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
)

// probe is used to sniff the message type before committing to a concrete
// unmarshal target, mirroring the teacher's transport/server/base/detector.go.
type probe struct {
	Id     *json.RawMessage `json:"id"`
	Method *string          `json:"method"`
	Result *json.RawMessage `json:"result"`
	Error  *json.RawMessage `json:"error"`
}

// DetectType classifies a raw JSON-RPC message by field presence, per
// SPEC_FULL §4.5: result/error present -> Response, else id present ->
// Request, else Notification.
func DetectType(raw []byte) (MessageType, error) {
	p := probe{}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	if p.Result != nil || p.Error != nil {
		return MessageTypeResponse, nil
	}
	if p.Id != nil {
		return MessageTypeRequest, nil
	}
	return MessageTypeNotification, nil
}

// Message wraps whichever concrete JSON-RPC message a raw payload turned out
// to be, so callers can dispatch on Type without re-probing.
type Message struct {
	Type         MessageType
	Request      *Request
	Notification *Notification
	Response     *Response
}

// Parse decodes a single JSON-RPC message, validating required fields and
// the protocol version. On malformed input it returns a *Error with code
// ParseError or InvalidRequest, ready to be sent back to the caller.
func Parse(raw []byte) (*Message, *Error) {
	kind, err := DetectType(raw)
	if err != nil {
		return nil, NewError(ParseError, fmt.Sprintf("parse error: %v", err), nil)
	}
	switch kind {
	case MessageTypeResponse:
		resp := &Response{}
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, NewError(ParseError, fmt.Sprintf("parse error: %v", err), nil)
		}
		if e := validateResponse(resp); e != nil {
			return nil, e
		}
		return &Message{Type: MessageTypeResponse, Response: resp}, nil
	case MessageTypeRequest:
		req := &rawRequest{}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, NewError(ParseError, fmt.Sprintf("parse error: %v", err), nil)
		}
		r, e := req.toRequest()
		if e != nil {
			return nil, e
		}
		return &Message{Type: MessageTypeRequest, Request: r}, nil
	default:
		n := &Notification{}
		if err := json.Unmarshal(raw, n); err != nil {
			return nil, NewError(ParseError, fmt.Sprintf("parse error: %v", err), nil)
		}
		if e := validateCommon(n.Jsonrpc, n.Method, ""); e != nil {
			return nil, e
		}
		return &Message{Type: MessageTypeNotification, Notification: n}, nil
	}
}

// rawRequest accepts either a string or numeric "id" on the wire and
// stringifies it, since RequestId is fixed to string internally.
type rawRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *rawRequest) toRequest() (*Request, *Error) {
	id, err := stringifyId(r.Id)
	if err != nil {
		return nil, NewError(InvalidRequest, err.Error(), nil)
	}
	if e := validateCommon(r.Jsonrpc, r.Method, id); e != nil {
		return nil, e
	}
	return &Request{Jsonrpc: r.Jsonrpc, Id: id, Method: r.Method, Params: r.Params}, nil
}

func stringifyId(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("field id in Request: required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("id must be a string or number: %w", err)
	}
	return n.String(), nil
}

func validateCommon(version, method, id string) *Error {
	if version != Version {
		return NewError(InvalidRequest, fmt.Sprintf("unsupported jsonrpc version: %q", version), nil)
	}
	if method == "" {
		return NewError(InvalidRequest, "field method is required", nil)
	}
	_ = id
	return nil
}

func validateResponse(r *Response) *Error {
	if r.Jsonrpc != Version {
		return NewError(InvalidRequest, fmt.Sprintf("unsupported jsonrpc version: %q", r.Jsonrpc), nil)
	}
	if r.Result == nil && r.Error == nil {
		return NewError(InvalidRequest, "response must carry result or error", nil)
	}
	return nil
}
