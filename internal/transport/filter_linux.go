//go:build linux

package transport

import (
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

func attachFilter(fd int, spec FilterSpec) error {
	prog, err := spec.Program()
	if err != nil {
		return &SetupError{Op: "build bpf filter", Err: err}
	}
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return &SetupError{Op: "assemble bpf filter", Err: err}
	}

	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return &SetupError{Op: "setsockopt SO_ATTACH_FILTER", Err: err}
	}
	return nil
}
