// Package packet builds and reads IPv4+TCP datagrams with no options and no
// payload, the only shape a handshake segment takes.
//
// Headers are never aliased onto Go structs. The IPv4 header is marshalled
// with golang.org/x/net/ipv4. IPv4 and TCP are byte-slice views whose
// accessors read fixed-offset big-endian fields (TCP also writes them); the
// Parse constructors check bounds once so the accessors can't run off the
// end of the slice.
package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/ipv4"
)

// Header sizes (bytes).
const (
	IPv4HeaderLen = ipv4.HeaderLen
	TCPHeaderLen  = 20
	DatagramLen   = IPv4HeaderLen + TCPHeaderLen

	pseudoHeaderLen = 12
)

// ProtocolTCP is the IPv4 protocol number for TCP.
const ProtocolTCP = 6

// Defaults used when a Segment leaves a field zero.
const (
	DefaultTTL    = 64
	DefaultWindow = 8192
)

// Flags holds the TCP control bits.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Has reports whether every bit in want is set.
func (f Flags) Has(want Flags) bool { return f&want == want }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagSYN, "SYN"},
		{FlagACK, "ACK"},
		{FlagFIN, "FIN"},
		{FlagRST, "RST"},
		{FlagPSH, "PSH"},
		{FlagURG, "URG"},
	}
	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

////////////////////////////////////////////////////////////////////////////////
// IPv4 header view.
////////////////////////////////////////////////////////////////////////////////

// IPv4 is a view of an IPv4 header at the start of a datagram.
type IPv4 []byte

// ParseIPv4 checks that b starts with a complete IPv4 header and returns a
// view limited to that header.
func ParseIPv4(b []byte) (IPv4, error) {
	if len(b) < IPv4HeaderLen {
		return nil, fmt.Errorf("ipv4 header too short: %d", len(b))
	}
	if v := b[0] >> 4; v != ipv4.Version {
		return nil, fmt.Errorf("unsupported ip version: %d", v)
	}
	hl := int(b[0]&0x0f) * 4
	if hl < IPv4HeaderLen {
		return nil, fmt.Errorf("ipv4 header length too small: %d", hl)
	}
	if len(b) < hl {
		return nil, fmt.Errorf("ipv4 header length mismatch: %d > %d", hl, len(b))
	}
	return IPv4(b[:hl]), nil
}

func (h IPv4) Version() uint8      { return h[0] >> 4 }
func (h IPv4) HeaderLen() int      { return int(h[0]&0x0f) * 4 }
func (h IPv4) TOS() uint8          { return h[1] }
func (h IPv4) TotalLen() uint16    { return binary.BigEndian.Uint16(h[2:4]) }
func (h IPv4) ID() uint16          { return binary.BigEndian.Uint16(h[4:6]) }
func (h IPv4) FragmentOff() uint16 { return binary.BigEndian.Uint16(h[6:8]) }
func (h IPv4) TTL() uint8          { return h[8] }
func (h IPv4) Protocol() uint8     { return h[9] }
func (h IPv4) Checksum() uint16    { return binary.BigEndian.Uint16(h[10:12]) }

func (h IPv4) Src() netip.Addr { return netip.AddrFrom4([4]byte(h[12:16])) }
func (h IPv4) Dst() netip.Addr { return netip.AddrFrom4([4]byte(h[16:20])) }

////////////////////////////////////////////////////////////////////////////////
// TCP header view.
////////////////////////////////////////////////////////////////////////////////

// TCP is a view of a TCP header.
type TCP []byte

// ParseTCP checks that b starts with a complete TCP header and returns a view
// limited to that header.
func ParseTCP(b []byte) (TCP, error) {
	if len(b) < TCPHeaderLen {
		return nil, fmt.Errorf("tcp header too short: %d", len(b))
	}
	hl := int(b[12]>>4) * 4
	if hl < TCPHeaderLen {
		return nil, fmt.Errorf("tcp data offset too small: %d", hl)
	}
	if len(b) < hl {
		return nil, fmt.Errorf("tcp header length mismatch: %d > %d", hl, len(b))
	}
	return TCP(b[:hl]), nil
}

func (h TCP) SrcPort() uint16   { return binary.BigEndian.Uint16(h[0:2]) }
func (h TCP) DstPort() uint16   { return binary.BigEndian.Uint16(h[2:4]) }
func (h TCP) Seq() uint32       { return binary.BigEndian.Uint32(h[4:8]) }
func (h TCP) Ack() uint32       { return binary.BigEndian.Uint32(h[8:12]) }
func (h TCP) HeaderLen() int    { return int(h[12]>>4) * 4 }
func (h TCP) Flags() Flags      { return Flags(h[13] & 0x3f) }
func (h TCP) Window() uint16    { return binary.BigEndian.Uint16(h[14:16]) }
func (h TCP) Checksum() uint16  { return binary.BigEndian.Uint16(h[16:18]) }
func (h TCP) UrgentPtr() uint16 { return binary.BigEndian.Uint16(h[18:20]) }

func (h TCP) SetSrcPort(v uint16)   { binary.BigEndian.PutUint16(h[0:2], v) }
func (h TCP) SetDstPort(v uint16)   { binary.BigEndian.PutUint16(h[2:4], v) }
func (h TCP) SetSeq(v uint32)       { binary.BigEndian.PutUint32(h[4:8], v) }
func (h TCP) SetAck(v uint32)       { binary.BigEndian.PutUint32(h[8:12], v) }
func (h TCP) setDataOffset(n int)   { h[12] = uint8(n/4) << 4 }
func (h TCP) SetFlags(f Flags)      { h[13] = uint8(f) }
func (h TCP) SetWindow(v uint16)    { binary.BigEndian.PutUint16(h[14:16], v) }
func (h TCP) SetChecksum(v uint16)  { binary.BigEndian.PutUint16(h[16:18], v) }
func (h TCP) SetUrgentPtr(v uint16) { binary.BigEndian.PutUint16(h[18:20], v) }
