package packet

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/nozo-moto/rawshake/internal/checksum"
)

var (
	testSrc = netip.MustParseAddr("127.0.0.1")
	testDst = netip.MustParseAddr("10.42.0.2")
)

func testSegment(flags Flags, seq, ack uint32) Segment {
	return Segment{
		Src:     testSrc,
		Dst:     testDst,
		SrcPort: 54321,
		DstPort: 12345,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		ID:      54321,
	}
}

func mustBuild(t *testing.T, s Segment) []byte {
	t.Helper()
	b, err := Build(s)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return b
}

func TestBuildRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		seq   uint32
		ack   uint32
	}{
		{"syn", FlagSYN, 1000, 0},
		{"syn-ack", FlagSYN | FlagACK, 5000, 1001},
		{"ack", FlagACK, 1001, 5001},
		{"max seq", FlagSYN, 0xffffffff, 0},
		{"no flags", 0, 7, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSegment(tt.flags, tt.seq, tt.ack)
			b := mustBuild(t, s)
			if len(b) != DatagramLen {
				t.Fatalf("datagram length %d, want %d", len(b), DatagramLen)
			}

			d, err := Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if d.IP.Src() != s.Src || d.IP.Dst() != s.Dst {
				t.Fatalf("addresses %v > %v, want %v > %v", d.IP.Src(), d.IP.Dst(), s.Src, s.Dst)
			}
			if d.TCP.SrcPort() != s.SrcPort || d.TCP.DstPort() != s.DstPort {
				t.Fatalf("ports %d > %d, want %d > %d", d.TCP.SrcPort(), d.TCP.DstPort(), s.SrcPort, s.DstPort)
			}
			if d.TCP.Seq() != tt.seq || d.TCP.Ack() != tt.ack {
				t.Fatalf("seq/ack %d/%d, want %d/%d", d.TCP.Seq(), d.TCP.Ack(), tt.seq, tt.ack)
			}
			if d.TCP.Flags() != tt.flags {
				t.Fatalf("flags %v, want %v", d.TCP.Flags(), tt.flags)
			}
		})
	}
}

func TestBuildFixedFields(t *testing.T) {
	b := mustBuild(t, testSegment(FlagSYN, 1000, 0))
	ip := IPv4(b[:IPv4HeaderLen])
	tcp := TCP(b[IPv4HeaderLen:])

	if ip.Version() != 4 || ip.HeaderLen() != 20 {
		t.Fatalf("version/ihl %d/%d", ip.Version(), ip.HeaderLen())
	}
	if ip.TOS() != 0 || ip.FragmentOff() != 0 {
		t.Fatalf("tos/frag %d/%d, want 0/0", ip.TOS(), ip.FragmentOff())
	}
	if ip.TotalLen() != DatagramLen {
		t.Fatalf("total length %d, want %d", ip.TotalLen(), DatagramLen)
	}
	if ip.TTL() != DefaultTTL || ip.Protocol() != ProtocolTCP || ip.ID() != 54321 {
		t.Fatalf("ttl/proto/id %d/%d/%d", ip.TTL(), ip.Protocol(), ip.ID())
	}
	if tcp.HeaderLen() != TCPHeaderLen {
		t.Fatalf("tcp data offset %d, want %d", tcp.HeaderLen(), TCPHeaderLen)
	}
	if tcp.Window() != DefaultWindow || tcp.UrgentPtr() != 0 {
		t.Fatalf("window/urgent %d/%d", tcp.Window(), tcp.UrgentPtr())
	}
	if b[0] != 0x45 {
		t.Fatalf("first byte %#02x, want 0x45", b[0])
	}
}

func TestBuildChecksumsVerify(t *testing.T) {
	b := mustBuild(t, testSegment(FlagSYN|FlagACK, 5000, 1001))

	if !checksum.Valid(b[:IPv4HeaderLen]) {
		t.Fatalf("ipv4 header checksum does not resum to zero")
	}
	seg := b[IPv4HeaderLen:]
	if !tcpChecksumValid(testSrc, testDst, seg) {
		t.Fatalf("tcp checksum does not verify")
	}
	// The one's-complement sum is commutative, so swapping the addresses
	// still verifies; changing one does not.
	if !tcpChecksumValid(testDst, testSrc, seg) {
		t.Fatalf("tcp checksum depends on address order")
	}
	if tcpChecksumValid(testSrc, netip.MustParseAddr("10.42.0.3"), seg) {
		t.Fatalf("tcp checksum verified against the wrong pseudo-header")
	}
}

func TestDatagramTCPChecksumCoversPayload(t *testing.T) {
	// A SYN-ACK carrying 3 payload bytes, checksummed over all of them.
	base := mustBuild(t, testSegment(FlagSYN|FlagACK, 5000, 1001))
	b := append(append([]byte(nil), base...), 'a', 'b', 'c')
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	binary.BigEndian.PutUint16(b[10:12], 0)
	binary.BigEndian.PutUint16(b[10:12], checksum.Checksum(b[:IPv4HeaderLen]))
	seg := b[IPv4HeaderLen:]
	binary.BigEndian.PutUint16(seg[16:18], 0)
	sum := checksum.Partial(PseudoHeader(testSrc, testDst, ProtocolTCP, uint16(len(seg))), 0)
	binary.BigEndian.PutUint16(seg[16:18], checksum.Fold(checksum.Partial(seg, sum)))

	d, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.IPChecksumValid() || !d.TCPChecksumValid() {
		t.Fatalf("checksums do not verify: %s", d.Summary())
	}

	b[len(b)-1] = 'x'
	if d.TCPChecksumValid() {
		t.Fatalf("corrupted payload verified")
	}
}

func TestBuildChecksumsAgreeWithGvisor(t *testing.T) {
	b := mustBuild(t, testSegment(FlagSYN, 1000, 0))

	ip := header.IPv4(b)
	if !ip.IsChecksumValid() {
		t.Fatalf("gvisor rejects ipv4 checksum %#04x", ip.Checksum())
	}
	tcp := header.TCP(ip.Payload())
	src := tcpip.AddrFrom4(testSrc.As4())
	dst := tcpip.AddrFrom4(testDst.As4())
	if !tcp.IsChecksumValid(src, dst, 0, 0) {
		t.Fatalf("gvisor rejects tcp checksum %#04x", tcp.Checksum())
	}
	if tcp.Flags() != header.TCPFlagSyn {
		t.Fatalf("gvisor sees flags %v", tcp.Flags())
	}
}

func TestBuildDecodesWithGopacket(t *testing.T) {
	b := mustBuild(t, testSegment(FlagACK, 1001, 5001))

	pkt := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.Default)
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		t.Fatalf("gopacket decode: %v", errLayer.Error())
	}
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatalf("no ipv4 layer")
	}
	tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		t.Fatalf("no tcp layer")
	}
	if !ip.SrcIP.Equal(testSrc.AsSlice()) || !ip.DstIP.Equal(testDst.AsSlice()) {
		t.Fatalf("gopacket addresses %v > %v", ip.SrcIP, ip.DstIP)
	}
	if ip.Protocol != layers.IPProtocolTCP || ip.TTL != DefaultTTL || ip.Length != DatagramLen {
		t.Fatalf("gopacket ip fields proto=%v ttl=%d len=%d", ip.Protocol, ip.TTL, ip.Length)
	}
	if tcp.SrcPort != 54321 || tcp.DstPort != 12345 {
		t.Fatalf("gopacket ports %v > %v", tcp.SrcPort, tcp.DstPort)
	}
	if tcp.SYN || !tcp.ACK || tcp.FIN || tcp.RST || tcp.PSH || tcp.URG {
		t.Fatalf("gopacket flags %+v", tcp)
	}
	if tcp.Seq != 1001 || tcp.Ack != 5001 || tcp.Window != DefaultWindow {
		t.Fatalf("gopacket seq/ack/win %d/%d/%d", tcp.Seq, tcp.Ack, tcp.Window)
	}
}

func TestBuildAgreesWithXNetHeader(t *testing.T) {
	b := mustBuild(t, testSegment(FlagSYN, 1000, 0))

	h, err := ipv4.ParseHeader(b)
	if err != nil {
		t.Fatalf("x/net parse: %v", err)
	}
	if h.Version != ipv4.Version || h.Len != ipv4.HeaderLen || h.TTL != DefaultTTL || h.Protocol != ProtocolTCP {
		t.Fatalf("x/net header %+v", h)
	}
	if !h.Src.Equal(testSrc.AsSlice()) || !h.Dst.Equal(testDst.AsSlice()) {
		t.Fatalf("x/net addresses %v > %v", h.Src, h.Dst)
	}
	if h.TotalLen != DatagramLen || h.ID != 54321 || h.FragOff != 0 || h.Flags != 0 {
		t.Fatalf("x/net header %+v", h)
	}
	// Remarshalling the parsed header, checksum included, must give back the
	// bytes that went on the wire.
	again, err := h.Marshal()
	if err != nil {
		t.Fatalf("x/net marshal: %v", err)
	}
	if !bytes.Equal(again, b[:IPv4HeaderLen]) {
		t.Fatalf("ipv4 header % x, x/net remarshal % x", b[:IPv4HeaderLen], again)
	}
}

func TestBuildIntoReusesAndZeroesBuffer(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xaa
	}
	d, err := BuildInto(buf, testSegment(FlagSYN, 1, 0))
	if err != nil {
		t.Fatalf("build into: %v", err)
	}
	if &d[0] != &buf[0] {
		t.Fatalf("BuildInto did not write into the caller's buffer")
	}
	want := mustBuild(t, testSegment(FlagSYN, 1, 0))
	if string(d) != string(want) {
		t.Fatalf("stale bytes leaked into datagram:\n got %x\nwant %x", d, want)
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := BuildInto(make([]byte, DatagramLen-1), testSegment(FlagSYN, 1, 0)); err == nil {
		t.Fatalf("expected error for short buffer")
	}
	s := testSegment(FlagSYN, 1, 0)
	s.Dst = netip.MustParseAddr("::1")
	if _, err := Build(s); err == nil || !strings.Contains(err.Error(), "ipv4") {
		t.Fatalf("expected ipv4 address error, got %v", err)
	}
	s = testSegment(FlagSYN, 1, 0)
	s.Src = netip.Addr{}
	if _, err := Build(s); err == nil {
		t.Fatalf("expected error for zero source address")
	}
}

func TestPseudoHeaderLayout(t *testing.T) {
	got := PseudoHeader(testSrc, testDst, ProtocolTCP, TCPHeaderLen)
	want := []byte{127, 0, 0, 1, 10, 42, 0, 2, 0, 6, 0, 20}
	if string(got) != string(want) {
		t.Fatalf("pseudo-header %v, want %v", got, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := mustBuild(t, testSegment(FlagSYN, 1, 0))

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), valid...))
	}
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"short ip", valid[:10]},
		{"short tcp", valid[:IPv4HeaderLen+10]},
		{"ipv6 version", mutate(func(b []byte) []byte { b[0] = 0x65; return b })},
		{"ihl too small", mutate(func(b []byte) []byte { b[0] = 0x44; return b })},
		{"ihl past end", mutate(func(b []byte) []byte { b[0] = 0x4f; return b })},
		{"udp", mutate(func(b []byte) []byte { b[9] = 17; return b })},
		{"data offset too small", mutate(func(b []byte) []byte { b[IPv4HeaderLen+12] = 0x40; return b })},
		{"data offset past end", mutate(func(b []byte) []byte { b[IPv4HeaderLen+12] = 0xf0; return b })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.in); err == nil {
				t.Fatalf("decode accepted malformed datagram %x", tt.in)
			}
		})
	}
}

func TestDecodeHonoursHeaderLength(t *testing.T) {
	// An IPv4 header carrying 4 bytes of options (IHL=6) must be skipped
	// using its declared length.
	base := mustBuild(t, testSegment(FlagSYN|FlagACK, 5000, 1001))
	b := make([]byte, 0, DatagramLen+4)
	b = append(b, base[:IPv4HeaderLen]...)
	b = append(b, 0x01, 0x01, 0x01, 0x00) // NOP NOP NOP EOL
	b = append(b, base[IPv4HeaderLen:]...)
	b[0] = 0x46
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))

	d, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.IP.HeaderLen() != 24 {
		t.Fatalf("ip header length %d, want 24", d.IP.HeaderLen())
	}
	if d.TCP.Seq() != 5000 || d.TCP.Ack() != 1001 || !d.TCP.Flags().Has(FlagSYN|FlagACK) {
		t.Fatalf("tcp read at wrong offset: %s", d.Summary())
	}
}

func TestFlagsString(t *testing.T) {
	tests := map[Flags]string{
		0:                 "none",
		FlagSYN:           "SYN",
		FlagSYN | FlagACK: "SYN|ACK",
		FlagACK | FlagRST: "ACK|RST",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("Flags(%#x).String() = %q, want %q", uint8(f), got, want)
		}
	}
	if !(FlagSYN | FlagACK).Has(FlagSYN) || FlagSYN.Has(FlagSYN|FlagACK) {
		t.Fatalf("Has is wrong")
	}
}

func TestSummary(t *testing.T) {
	d, err := Decode(mustBuild(t, testSegment(FlagSYN, 1000, 0)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "127.0.0.1:54321 > 10.42.0.2:12345 [SYN] seq=1000 ack=0 win=8192"
	if got := d.Summary(); got != want {
		t.Fatalf("summary %q, want %q", got, want)
	}
	if !d.IPChecksumValid() {
		t.Fatalf("ip checksum invalid")
	}
}
