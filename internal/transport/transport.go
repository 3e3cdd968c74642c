// Package transport moves complete IPv4 datagrams (caller-built headers
// included) between the handshake driver and the wire.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"
)

// ErrTimeout is returned, wrapped, when Receive sees no datagram before its
// timeout elapses.
var ErrTimeout = errors.New("receive timed out")

// Sender transmits one datagram, IPv4 header included, towards dst.
type Sender interface {
	Send(b []byte, dst netip.AddrPort) (int, error)
}

// Receiver blocks for at most timeout waiting for one inbound datagram and
// copies it, IPv4 header included, into b.
type Receiver interface {
	Receive(b []byte, timeout time.Duration) (int, error)
}

// Conn is a raw IP-level endpoint in header-inclusion mode.
type Conn interface {
	Sender
	Receiver
	io.Closer
}

// SetupError reports a failure to create or configure a raw socket. Nothing
// has been sent when it is returned.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("transport setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// MaxDatagramLen is the largest datagram Receive can return.
const MaxDatagramLen = 65535
