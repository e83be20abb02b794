// Package conn implements the Shared Connection primitive from SPEC_FULL
// §4.1: a reference-counted handle over an accepted socket that lets the
// accept loop hand ownership to a worker goroutine while keeping a single,
// safe teardown path. Grounded on the goroutine-per-connection shape shown
// in the pack's nabbar/golib tcp server (accept, wrap, hand off, no shared
// mutable state across connections).
package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Shared is a handle over a net.Conn that can be copied without transferring
// ownership. Exactly one holder has owned=true at any moment; Teardown is a
// no-op once ownership has moved on, so a stale alias can never close a
// socket a new owner is still using.
type Shared struct {
	raw    net.Conn
	owned  *atomic.Bool
	closed *sync.Once
}

// New wraps an accepted net.Conn as an owning Shared handle.
func New(raw net.Conn) *Shared {
	owned := &atomic.Bool{}
	owned.Store(true)
	return &Shared{raw: raw, owned: owned, closed: &sync.Once{}}
}

// Alias returns a non-owning copy: it may Read/Write but Teardown on it is a
// no-op. Used when a component needs to touch the socket without taking
// part in the ownership handoff (e.g. a read-only body stream).
func (s *Shared) Alias() *Shared {
	owned := &atomic.Bool{}
	owned.Store(false)
	return &Shared{raw: s.raw, owned: owned, closed: s.closed}
}

// Release flips this handle to non-owning without closing the socket, so a
// holder that has handed the connection on can no longer close it.
func (s *Shared) Release() {
	s.owned.Store(false)
}

// Owned reports whether this handle currently owns the underlying socket.
func (s *Shared) Owned() bool {
	return s.owned.Load()
}

// Read implements io.Reader over the underlying socket.
func (s *Shared) Read(buf []byte) (int, error) {
	return s.raw.Read(buf)
}

// Write implements io.Writer over the underlying socket.
func (s *Shared) Write(buf []byte) (int, error) {
	return s.raw.Write(buf)
}

// Teardown closes the underlying socket exactly once, and only if this
// handle currently owns it. Aliased or released handles get a nil-error
// no-op, which keeps teardown safe to call from defer blocks in every
// component that touches the connection.
func (s *Shared) Teardown() error {
	if !s.owned.Load() {
		return nil
	}
	var err error
	s.closed.Do(func() {
		err = s.raw.Close()
	})
	return err
}

// RemoteAddr exposes the peer address, which an HTTP Exchange reports as
// its per-connection identity.
func (s *Shared) RemoteAddr() net.Addr {
	return s.raw.RemoteAddr()
}

// LocalAddr exposes the local bound address.
func (s *Shared) LocalAddr() net.Addr {
	return s.raw.LocalAddr()
}

// SetDeadline forwards to the underlying connection. The keep-alive loop
// does not set one, so a worker waits for the next request without limit.
func (s *Shared) SetDeadline(t time.Time) error {
	return s.raw.SetDeadline(t)
}
