package packet

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/nozo-moto/rawshake/internal/checksum"
	"golang.org/x/net/ipv4"
)

// Segment describes one handshake datagram.
type Segment struct {
	Src, Dst         netip.Addr
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            Flags
	// Window defaults to DefaultWindow when zero.
	Window uint16
	// ID is the IPv4 identification field.
	ID uint16
}

// Build allocates a DatagramLen buffer and fills it from s.
func Build(s Segment) ([]byte, error) {
	return BuildInto(make([]byte, DatagramLen), s)
}

// BuildInto writes the IPv4 and TCP headers described by s into buf and
// returns buf[:DatagramLen]. Both checksums are filled in.
func BuildInto(buf []byte, s Segment) ([]byte, error) {
	if len(buf) < DatagramLen {
		return nil, fmt.Errorf("datagram buffer too small: %d < %d", len(buf), DatagramLen)
	}
	if !s.Src.Is4() || !s.Dst.Is4() {
		return nil, fmt.Errorf("ipv4 addresses required: src=%v dst=%v", s.Src, s.Dst)
	}
	window := s.Window
	if window == 0 {
		window = DefaultWindow
	}

	d := buf[:DatagramLen]
	clear(d)

	ih, err := (&ipv4.Header{
		Version:  ipv4.Version,
		Len:      IPv4HeaderLen,
		TotalLen: DatagramLen,
		ID:       int(s.ID),
		TTL:      DefaultTTL,
		Protocol: ProtocolTCP,
		Src:      net.IP(s.Src.AsSlice()),
		Dst:      net.IP(s.Dst.AsSlice()),
	}).Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal ipv4 header: %w", err)
	}
	ip := d[:IPv4HeaderLen]
	copy(ip, ih)
	binary.BigEndian.PutUint16(ip[10:12], checksum.Checksum(ip))

	tcp := TCP(d[IPv4HeaderLen:])
	tcp.SetSrcPort(s.SrcPort)
	tcp.SetDstPort(s.DstPort)
	tcp.SetSeq(s.Seq)
	tcp.SetAck(s.Ack)
	tcp.setDataOffset(TCPHeaderLen)
	tcp.SetFlags(s.Flags)
	tcp.SetWindow(window)
	tcp.SetChecksum(0)
	tcp.SetUrgentPtr(0)

	var scratch [pseudoHeaderLen + TCPHeaderLen]byte
	copy(scratch[:pseudoHeaderLen], PseudoHeader(s.Src, s.Dst, ProtocolTCP, TCPHeaderLen))
	copy(scratch[pseudoHeaderLen:], tcp)
	tcp.SetChecksum(checksum.Checksum(scratch[:]))

	return d, nil
}

// PseudoHeader returns the 12-byte IPv4 pseudo-header that prefixes a
// transport segment for checksumming. It is never transmitted.
func PseudoHeader(src, dst netip.Addr, protocol uint8, length uint16) []byte {
	b := make([]byte, pseudoHeaderLen)
	s4, d4 := src.As4(), dst.As4()
	copy(b[0:4], s4[:])
	copy(b[4:8], d4[:])
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:12], length)
	return b
}

// tcpChecksumValid reports whether the TCP checksum of seg verifies against
// the pseudo-header for src and dst.
func tcpChecksumValid(src, dst netip.Addr, seg []byte) bool {
	sum := checksum.Partial(PseudoHeader(src, dst, ProtocolTCP, uint16(len(seg))), 0)
	return checksum.Fold(checksum.Partial(seg, sum)) == 0
}
