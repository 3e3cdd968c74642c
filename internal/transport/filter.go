package transport

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/net/bpf"
)

// FilterSpec selects the TCP datagrams a receiving socket lets through: those
// sent from Peer to LocalPort.
type FilterSpec struct {
	Peer      netip.AddrPort
	LocalPort uint16
}

// acceptLen is the snap length returned for accepted packets.
const acceptLen = 0x40000

// Program returns a classic BPF program over a raw IPv4 datagram (IP header
// at offset 0) implementing the filter.
func (f FilterSpec) Program() ([]bpf.Instruction, error) {
	if !f.Peer.Addr().Is4() {
		return nil, fmt.Errorf("bpf filter: peer %v is not ipv4", f.Peer)
	}
	peer := f.Peer.Addr().As4()

	return []bpf.Instruction{
		// protocol == TCP
		bpf.LoadAbsolute{Off: 9, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 6, SkipTrue: 8},
		// source address == peer
		bpf.LoadAbsolute{Off: 12, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: binary.BigEndian.Uint32(peer[:]), SkipTrue: 6},
		// X = IHL*4
		bpf.LoadMemShift{Off: 0},
		// tcp source port == peer port
		bpf.LoadIndirect{Off: 0, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(f.Peer.Port()), SkipTrue: 3},
		// tcp destination port == local port
		bpf.LoadIndirect{Off: 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(f.LocalPort), SkipTrue: 1},
		bpf.RetConstant{Val: acceptLen},
		bpf.RetConstant{Val: 0},
	}, nil
}
