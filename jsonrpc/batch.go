package jsonrpc

import (
	"encoding/json"
	"errors"
)

// BatchRequest is a JSON-RPC 2.0 batch: a non-empty array of requests sent
// and answered together. Per SPEC_FULL §6, a POST body starting with '['
// is the signal the streaming server uses to switch a response to SSE.
type BatchRequest []*Request

// BatchResponse is the corresponding array of responses.
type BatchResponse []*Response

// UnmarshalJSON rejects the empty-array batch, which JSON-RPC 2.0 disallows.
func (b *BatchRequest) UnmarshalJSON(data []byte) error {
	var requests []*Request
	if err := json.Unmarshal(data, &requests); err != nil {
		return err
	}
	if len(requests) == 0 {
		return errors.New("invalid batch request: empty array")
	}
	*b = requests
	return nil
}

// IsBatch reports whether raw looks like a JSON-RPC batch, i.e. its first
// non-whitespace byte is '['.
func IsBatch(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
