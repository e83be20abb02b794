// Package util holds the small cross-layer helpers spec.md §9 calls out:
// hex chunk-size framing and child-process reaping. The teacher's HTTP
// streaming layer reached into its MCP layer for these; placing them in a
// neutral, dependency-free package avoids that coupling here.
package util

import "strconv"

// ChunkSizeHex renders n as lowercase, unpadded hex, the form RFC 7230 §4.1
// requires for chunked-transfer-coding chunk sizes.
func ChunkSizeHex(n int) string {
	return strconv.FormatInt(int64(n), 16)
}
