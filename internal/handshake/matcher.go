package handshake

import (
	"net/netip"

	"github.com/nozo-moto/rawshake/internal/packet"
)

// Reason classifies why a received datagram was or wasn't the SYN-ACK.
type Reason uint8

const (
	Matched Reason = iota
	Malformed
	WrongAddress
	WrongPort
	WrongFlags
	WrongAck
)

func (r Reason) String() string {
	switch r {
	case Matched:
		return "matched"
	case Malformed:
		return "malformed"
	case WrongAddress:
		return "address"
	case WrongPort:
		return "port"
	case WrongFlags:
		return "flags"
	case WrongAck:
		return "ack"
	}
	return "unknown"
}

// Matcher recognises the peer's SYN-ACK to our SYN.
type Matcher struct {
	Local       netip.AddrPort
	Peer        netip.AddrPort
	ExpectedAck uint32
}

// Match decodes b and applies the predicate: sent by the peer address from
// the peer port to our port, SYN and ACK set, acknowledging ExpectedAck.
// The datagram is only meaningful when the reason is Matched.
func (m Matcher) Match(b []byte) (packet.Datagram, Reason) {
	d, err := packet.Decode(b)
	if err != nil {
		return d, Malformed
	}
	if d.IP.Src() != m.Peer.Addr() {
		return d, WrongAddress
	}
	if d.TCP.SrcPort() != m.Peer.Port() || d.TCP.DstPort() != m.Local.Port() {
		return d, WrongPort
	}
	if !d.TCP.Flags().Has(packet.FlagSYN | packet.FlagACK) {
		return d, WrongFlags
	}
	if d.TCP.Ack() != m.ExpectedAck {
		return d, WrongAck
	}
	return d, Matched
}
