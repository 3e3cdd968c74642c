//go:build !linux

package transport

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"
)

type Options struct {
	SingleSocket bool
	Filter       *FilterSpec
	Logger       *slog.Logger
}

// Raw is only implemented on Linux.
type Raw struct{}

func Open(Options) (*Raw, error) {
	return nil, &SetupError{Op: "socket", Err: errors.ErrUnsupported}
}

func (*Raw) Send([]byte, netip.AddrPort) (int, error)    { return 0, errors.ErrUnsupported }
func (*Raw) Receive([]byte, time.Duration) (int, error) { return 0, errors.ErrUnsupported }
func (*Raw) Close() error                               { return nil }
