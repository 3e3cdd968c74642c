package handshake

import (
	"errors"
	"fmt"
)

// ErrHandshakeTimeout is returned, wrapping the receive error, when no
// matching SYN-ACK arrived in time. No ACK has been sent.
var ErrHandshakeTimeout = errors.New("handshake timed out waiting for SYN-ACK")

// TransmitError reports that sending one of the handshake segments failed.
// The handshake stops at that step.
type TransmitError struct {
	Segment string
	Err     error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit %s: %v", e.Segment, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }
