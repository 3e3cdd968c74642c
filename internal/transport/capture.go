package transport

import (
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const captureSnapLen = MaxDatagramLen

// Capture wraps a Conn and records every datagram it successfully sends or
// receives to a pcap stream with raw-IP link type. Capture write failures are
// logged and never fail the underlying operation.
type Capture struct {
	Conn
	w   *pcapgo.Writer
	log *slog.Logger
	now func() time.Time
}

// NewCapture writes the pcap file header to out and returns the wrapping
// Conn. Closing the Capture closes conn but not out.
func NewCapture(conn Conn, out io.Writer, log *slog.Logger) (*Capture, error) {
	if log == nil {
		log = slog.Default()
	}
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(captureSnapLen, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	return &Capture{Conn: conn, w: w, log: log, now: time.Now}, nil
}

func (c *Capture) Send(b []byte, dst netip.AddrPort) (int, error) {
	n, err := c.Conn.Send(b, dst)
	if err == nil {
		c.record(b)
	}
	return n, err
}

func (c *Capture) Receive(b []byte, timeout time.Duration) (int, error) {
	n, err := c.Conn.Receive(b, timeout)
	if err == nil {
		c.record(b[:n])
	}
	return n, err
}

func (c *Capture) record(data []byte) {
	ci := gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := c.w.WritePacket(ci, data); err != nil {
		c.log.Warn("capture: write packet", "error", err)
	}
}
