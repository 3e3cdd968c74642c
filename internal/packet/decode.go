package packet

import (
	"fmt"
	"net/netip"

	"github.com/nozo-moto/rawshake/internal/checksum"
)

// Datagram is a received IPv4 datagram carrying TCP, read in place.
type Datagram struct {
	IP  IPv4
	TCP TCP

	// seg is the TCP header plus any payload, up to the IPv4 total length.
	seg []byte
}

// Decode interprets b as an IPv4 header followed, at the header-length
// offset, by a TCP header. b is not copied; the views alias it.
func Decode(b []byte) (Datagram, error) {
	ip, err := ParseIPv4(b)
	if err != nil {
		return Datagram{}, err
	}
	if p := ip.Protocol(); p != ProtocolTCP {
		return Datagram{}, fmt.Errorf("not tcp: protocol %d", p)
	}
	end := len(b)
	if tl := int(ip.TotalLen()); tl >= ip.HeaderLen() && tl < end {
		end = tl
	}
	seg := b[ip.HeaderLen():end]
	tcp, err := ParseTCP(seg)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{IP: ip, TCP: tcp, seg: seg}, nil
}

// Src returns the sender's address and port.
func (d Datagram) Src() netip.AddrPort { return netip.AddrPortFrom(d.IP.Src(), d.TCP.SrcPort()) }

// Dst returns the receiver's address and port.
func (d Datagram) Dst() netip.AddrPort { return netip.AddrPortFrom(d.IP.Dst(), d.TCP.DstPort()) }

// IPChecksumValid reports whether the IPv4 header checksum verifies.
func (d Datagram) IPChecksumValid() bool { return checksum.Valid(d.IP) }

// TCPChecksumValid reports whether the TCP checksum verifies over the
// pseudo-header, the TCP header and the payload.
func (d Datagram) TCPChecksumValid() bool {
	return tcpChecksumValid(d.IP.Src(), d.IP.Dst(), d.seg)
}

// Summary renders the addressing, flags and sequence numbers on one line.
func (d Datagram) Summary() string {
	return fmt.Sprintf("%s > %s [%s] seq=%d ack=%d win=%d",
		d.Src(), d.Dst(), d.TCP.Flags(), d.TCP.Seq(), d.TCP.Ack(), d.TCP.Window())
}
