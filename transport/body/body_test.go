package body

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStream_ChunkFramingRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf, bufio.NewReader(bytes.NewReader(nil)), nil, Config{ContentLength: -1, Chunked: true, BufferSize: 1024})

	assert.NoError(t, s.WriteChunk([]byte("hello ")))
	assert.NoError(t, s.WriteChunk([]byte("world")))
	assert.NoError(t, s.EndStream())

	// de-frame per RFC 7230 §4.1 and confirm the concatenated payload matches.
	r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	var out bytes.Buffer
	for {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read size line: %v", err)
		}
		sizeLine = sizeLine[:len(sizeLine)-2] // trim \r\n
		if sizeLine == "0" {
			break
		}
		var n int64
		for _, c := range sizeLine {
			n = n*16 + int64(hexVal(byte(c)))
		}
		data := make([]byte, n)
		if _, err := r.Read(data); err != nil {
			t.Fatalf("read chunk data: %v", err)
		}
		out.Write(data)
		r.Discard(2) // trailing \r\n
	}
	assert.EqualValues(t, "hello world", out.String())
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return 0
}

func TestStream_WriteChunk_Unchunked(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf, bufio.NewReader(bytes.NewReader(nil)), nil, Config{ContentLength: 5, Chunked: false, BufferSize: 1024})
	assert.NoError(t, s.WriteChunk([]byte("hello")))
	assert.EqualValues(t, "hello", buf.String())
}

func TestStream_ReadChunk_KnownContentLength(t *testing.T) {
	body := []byte("0123456789")
	s := New(nil, bufio.NewReader(bytes.NewReader(body)), nil, Config{ContentLength: int64(len(body)), BufferSize: 4})

	var total []byte
	for {
		chunk, err := s.ReadChunk()
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		total = append(total, chunk...)
	}
	assert.EqualValues(t, body, total)
	assert.True(t, s.Complete())
}

func TestStream_ReadChunk_DrainsBufferedBodyFirst(t *testing.T) {
	s := New(nil, bufio.NewReader(bytes.NewReader([]byte("REST"))), []byte("PRE-"), Config{ContentLength: 8, BufferSize: 1024})
	chunk, err := s.ReadChunk()
	assert.NoError(t, err)
	assert.EqualValues(t, "PRE-", chunk)

	chunk, err = s.ReadChunk()
	assert.NoError(t, err)
	assert.EqualValues(t, "REST", chunk)
}

func TestStream_WriteSSEEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf, bufio.NewReader(bytes.NewReader(nil)), nil, Config{Chunked: true})
	id := uint64(4)
	assert.NoError(t, s.WriteSSEEvent("message", "line1\nline2", &id))
	assert.EqualValues(t, "event: message\nid: 4\ndata: line1\ndata: line2\n\n", buf.String())
}

func TestStream_WriteSSEEvent_TrailingNewlineAddsEmptyDataLine(t *testing.T) {
	buf := &bytes.Buffer{}
	s := New(buf, bufio.NewReader(bytes.NewReader(nil)), nil, Config{})
	assert.NoError(t, s.WriteSSEEvent("", "payload\n", nil))
	assert.EqualValues(t, "data: payload\ndata: \n\n", buf.String())
}
