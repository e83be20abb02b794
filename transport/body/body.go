// Package body implements the Body Stream primitive from SPEC_FULL §4.2: a
// chunked-aware reader/writer bound to a connection. It produces body
// chunks on read and emits either raw bytes, RFC 7230 chunk framing, or SSE
// records on write, depending on configuration.
package body

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nowex35/mcpstreaming/internal/util"
)

// ErrBodyTooLarge is returned by ReadChunk once bytes read exceeds the
// configured MaxBytes.
var ErrBodyTooLarge = errors.New("body stream: request body exceeds configured limit")

// Stream reads and writes an HTTP message body over a shared reader/writer.
type Stream struct {
	rw            io.ReadWriter
	br            *bufio.Reader
	contentLength int64 // -1 means unknown (read until EOF)
	chunked       bool
	bufferSize    int
	maxBytes      int64 // 0 means unlimited

	bytesRead int64
	complete  bool

	// buffered holds header-block trailing bytes that were read ahead of
	// the body itself; Read drains this before touching the socket.
	buffered []byte
}

// Config configures a Stream.
type Config struct {
	ContentLength int64 // -1 for unknown
	Chunked       bool
	BufferSize    int
	MaxBytes      int64 // 0 for unlimited
}

// New constructs a Stream. rw is typically a *conn.Shared; br lets callers
// reuse a bufio.Reader that may already hold look-ahead bytes from header
// parsing (see exchange.New). buffered is any body bytes that trailed the
// header terminator in the original read buffer.
func New(rw io.ReadWriter, br *bufio.Reader, buffered []byte, cfg Config) *Stream {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Stream{
		rw:            rw,
		br:            br,
		contentLength: cfg.ContentLength,
		chunked:       cfg.Chunked,
		bufferSize:    bufSize,
		maxBytes:      cfg.MaxBytes,
		buffered:      buffered,
	}
}

// Complete reports whether the body has been fully read.
func (s *Stream) Complete() bool { return s.complete }

// BytesRead returns the number of body bytes consumed so far.
func (s *Stream) BytesRead() int64 { return s.bytesRead }

// ReadChunk returns the next slice of the body, or an empty slice once the
// body is complete. With a known Content-Length, completion is exactly
// bytes_read == content_length; with an unknown length, EOF marks
// completion.
func (s *Stream) ReadChunk() ([]byte, error) {
	if s.complete {
		return nil, nil
	}
	if len(s.buffered) > 0 {
		n := s.bufferSize
		if n > len(s.buffered) {
			n = len(s.buffered)
		}
		chunk := s.buffered[:n]
		s.buffered = s.buffered[n:]
		s.bytesRead += int64(len(chunk))
		if s.maxBytes > 0 && s.bytesRead > s.maxBytes {
			return nil, ErrBodyTooLarge
		}
		s.checkComplete()
		return chunk, nil
	}

	if s.contentLength >= 0 && s.bytesRead >= s.contentLength {
		s.complete = true
		return nil, nil
	}

	want := s.bufferSize
	if s.contentLength >= 0 {
		remaining := s.contentLength - s.bytesRead
		if int64(want) > remaining {
			want = int(remaining)
		}
	}
	buf := make([]byte, want)
	n, err := s.br.Read(buf)
	if n > 0 {
		s.bytesRead += int64(n)
		if s.maxBytes > 0 && s.bytesRead > s.maxBytes {
			return buf[:n], ErrBodyTooLarge
		}
		s.checkComplete()
		if err == io.EOF {
			err = nil
		}
		return buf[:n], err
	}
	if err == io.EOF {
		s.complete = true
		return nil, nil
	}
	return nil, err
}

func (s *Stream) checkComplete() {
	if s.contentLength >= 0 && s.bytesRead >= s.contentLength {
		s.complete = true
	}
}

// WriteChunk emits data directly when not chunked, or hex(len)\r\n<data>\r\n
// when chunked, per RFC 7230 §4.1. Chunk size hex is lowercase and unpadded.
func (s *Stream) WriteChunk(data []byte) error {
	if !s.chunked {
		_, err := s.rw.Write(data)
		return err
	}
	if len(data) == 0 {
		return nil
	}
	header := util.ChunkSizeHex(len(data)) + "\r\n"
	if _, err := s.rw.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := s.rw.Write(data); err != nil {
		return err
	}
	_, err := s.rw.Write([]byte("\r\n"))
	return err
}

// EndStream emits the terminal 0-length chunk iff this stream is chunked.
func (s *Stream) EndStream() error {
	if !s.chunked {
		return nil
	}
	_, err := s.rw.Write([]byte("0\r\n\r\n"))
	return err
}

// WriteSSEEvent emits a Server-Sent Events record: an optional "event:"
// line, an optional "id:" line, one "data:" line per LF-split segment of
// data, then a blank line. SSE records are never chunk-framed even if the
// stream is otherwise configured as chunked, per SPEC_FULL §4.2.
func (s *Stream) WriteSSEEvent(eventType string, data string, id *uint64) error {
	var b strings.Builder
	if eventType != "" {
		b.WriteString("event: ")
		b.WriteString(eventType)
		b.WriteByte('\n')
	}
	if id != nil {
		b.WriteString("id: ")
		b.WriteString(strconv.FormatUint(*id, 10))
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := s.rw.Write([]byte(b.String()))
	return err
}

// Reframe reports an error if chunked differs from the framing this stream
// was constructed with, since a stream's framing cannot change mid-stream.
func (s *Stream) Reframe(chunked bool) error {
	if s.chunked == chunked {
		return nil
	}
	return fmt.Errorf("body stream: cannot change framing mid-stream")
}
