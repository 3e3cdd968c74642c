//go:build linux

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// Options configures Open.
type Options struct {
	// SingleSocket sends and receives on one IPPROTO_TCP socket instead of a
	// dedicated IPPROTO_RAW sender and IPPROTO_TCP receiver.
	SingleSocket bool
	// Filter, when set, is compiled to classic BPF and attached to the
	// receiving socket.
	Filter *FilterSpec
	Logger *slog.Logger
}

// Raw is a Conn over Linux AF_INET raw sockets with IP_HDRINCL set on the
// sending side. It needs CAP_NET_RAW.
type Raw struct {
	sendFD int
	recvFD int
	log    *slog.Logger

	timeout time.Duration
	closed  bool
}

var _ Conn = (*Raw)(nil)

// Open creates and configures the raw sockets. On error every socket that was
// created is closed again.
func Open(opts Options) (_ *Raw, err error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Raw{sendFD: -1, recvFD: -1, log: log}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if opts.SingleSocket {
		fd, err := openRaw(unix.IPPROTO_TCP)
		if err != nil {
			return nil, err
		}
		r.sendFD, r.recvFD = fd, fd
	} else {
		if r.sendFD, err = openRaw(unix.IPPROTO_RAW); err != nil {
			return nil, err
		}
		if r.recvFD, err = openRaw(unix.IPPROTO_TCP); err != nil {
			return nil, err
		}
	}

	if err := unix.SetsockoptInt(r.sendFD, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		return nil, &SetupError{Op: "setsockopt IP_HDRINCL", Err: err}
	}

	if opts.Filter != nil {
		if err := attachFilter(r.recvFD, *opts.Filter); err != nil {
			return nil, err
		}
	}

	log.Debug("raw sockets open",
		"sendFD", r.sendFD,
		"recvFD", r.recvFD,
		"singleSocket", opts.SingleSocket,
		"filter", opts.Filter != nil,
	)
	return r, nil
}

func openRaw(proto int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, &SetupError{Op: fmt.Sprintf("socket(AF_INET, SOCK_RAW, %d)", proto), Err: err}
	}
	return fd, nil
}

// Send transmits b, which must start with a complete IPv4 header.
func (r *Raw) Send(b []byte, dst netip.AddrPort) (int, error) {
	if r.closed {
		return 0, unix.EBADF
	}
	if !dst.Addr().Is4() {
		return 0, fmt.Errorf("send: not an ipv4 destination: %v", dst)
	}
	sa := &unix.SockaddrInet4{Port: int(dst.Port()), Addr: dst.Addr().As4()}
	if err := unix.Sendto(r.sendFD, b, 0, sa); err != nil {
		return 0, fmt.Errorf("sendto %v: %w", dst, err)
	}
	return len(b), nil
}

// Receive reads one datagram. The timeout applies to this call only; a
// datagram arriving resets it for the next call.
func (r *Raw) Receive(b []byte, timeout time.Duration) (int, error) {
	if r.closed {
		return 0, unix.EBADF
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("receive: timeout must be positive, got %v", timeout)
	}
	if timeout != r.timeout {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(r.recvFD, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return 0, fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
		}
		r.timeout = timeout
	}
	for {
		n, _, err := unix.Recvfrom(r.recvFD, b, 0)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return 0, fmt.Errorf("after %v: %w", timeout, ErrTimeout)
		default:
			return 0, fmt.Errorf("recvfrom: %w", err)
		}
	}
}

// Close releases both sockets. It is safe to call more than once.
func (r *Raw) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.sendFD >= 0 {
		errs = append(errs, unix.Close(r.sendFD))
	}
	if r.recvFD >= 0 && r.recvFD != r.sendFD {
		errs = append(errs, unix.Close(r.recvFD))
	}
	r.sendFD, r.recvFD = -1, -1
	return errors.Join(errs...)
}
