// Package handshake drives a TCP three-way handshake (SYN, SYN-ACK, ACK) from
// hand-built datagrams over a raw transport, bypassing the host TCP stack.
//
// The driver is strictly sequential: it sends the SYN, blocks on the
// transport until the matching SYN-ACK arrives or the wait times out, then
// sends the ACK. Nothing is retried.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/nozo-moto/rawshake/internal/packet"
	"github.com/nozo-moto/rawshake/internal/transport"
)

// DefaultReceiveTimeout is how long one receive may go without any datagram
// arriving.
const DefaultReceiveTimeout = 3 * time.Second

// Config carries the addressing and sequence parameters of one run.
type Config struct {
	Local      netip.AddrPort
	Peer       netip.AddrPort
	InitialSeq uint32

	// ReceiveTimeout bounds each receive; a quiet period this long fails the
	// wait. Defaults to DefaultReceiveTimeout.
	ReceiveTimeout time.Duration
	// MaxWait, when positive, bounds the whole SYN-ACK wait even while
	// unrelated datagrams keep arriving.
	MaxWait time.Duration

	// Window is advertised in both segments. Zero means packet.DefaultWindow.
	Window uint16
	// IPID is the identification carried by both datagrams.
	IPID uint16
}

func (c Config) validate() error {
	if !c.Local.Addr().Is4() || !c.Peer.Addr().Is4() {
		return fmt.Errorf("handshake: ipv4 endpoints required: local=%v peer=%v", c.Local, c.Peer)
	}
	if c.Local.Port() == 0 || c.Peer.Port() == 0 {
		return fmt.Errorf("handshake: ports must be non-zero: local=%v peer=%v", c.Local, c.Peer)
	}
	if c.ReceiveTimeout < 0 || c.MaxWait < 0 {
		return fmt.Errorf("handshake: negative timeout")
	}
	return nil
}

// Result describes a finished run.
type Result struct {
	State         State
	InitialSeq    uint32
	ExpectedAck   uint32
	PeerSeq       uint32
	HandshakeDone bool
	// Discarded counts received datagrams that failed the SYN-ACK match.
	Discarded int
}

// Option customises a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithMetrics makes the driver record into m.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// Driver runs a single handshake over a transport it owns.
type Driver struct {
	conn    transport.Conn
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	state State
	out   [packet.DatagramLen]byte
	in    []byte
}

// New returns a Driver for cfg. The driver takes ownership of conn and
// closes it when Run returns.
func New(conn transport.Conn, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	d := &Driver{
		conn:  conn,
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
		state: Idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current state.
func (d *Driver) State() State { return d.state }

// Run performs the handshake. A nil error means the final ACK was sent.
// Otherwise the error is a *TransmitError, wraps ErrHandshakeTimeout, or is
// the context's error. The transport is closed on every path.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	res = Result{
		InitialSeq:  d.cfg.InitialSeq,
		ExpectedAck: d.cfg.InitialSeq + 1,
	}
	if d.state != Idle {
		res.State = d.state
		return res, fmt.Errorf("handshake: driver already ran (state %s)", d.state)
	}
	defer func() {
		if cerr := d.conn.Close(); cerr != nil {
			d.log.Warn("close transport", "error", cerr)
		}
		res.State = d.state
		d.metrics.finished(d.state)
	}()

	if err := d.send("SYN", packet.FlagSYN, d.cfg.InitialSeq, 0); err != nil {
		d.transition(Failed)
		return res, err
	}
	d.transition(SynSent)

	d.transition(SynAckWait)
	synAck, discarded, err := d.awaitSynAck(ctx, res.ExpectedAck)
	res.Discarded = discarded
	if err != nil {
		if errors.Is(err, ErrHandshakeTimeout) {
			d.log.Error("No response received. Handshake failed or timed out.",
				"peer", d.cfg.Peer,
				"discarded", discarded,
				"error", err,
			)
			d.transition(TimedOut)
		} else {
			d.transition(Failed)
		}
		return res, err
	}
	res.PeerSeq = synAck.TCP.Seq()
	d.log.Info("received SYN-ACK",
		"seq", synAck.TCP.Seq(),
		"ack", synAck.TCP.Ack(),
		"peer", synAck.Src(),
	)
	if !synAck.IPChecksumValid() {
		d.log.Debug("SYN-ACK has a bad ipv4 header checksum", "checksum", synAck.IP.Checksum())
	}
	if !synAck.TCPChecksumValid() {
		d.log.Debug("SYN-ACK has a bad tcp checksum", "checksum", synAck.TCP.Checksum())
	}
	d.transition(SynAckMatched)

	if err := d.send("ACK", packet.FlagACK, res.ExpectedAck, res.PeerSeq+1); err != nil {
		d.transition(Failed)
		return res, err
	}
	d.transition(AckSent)

	res.HandshakeDone = true
	d.transition(Done)
	d.log.Info("Handshake completed.", "local", d.cfg.Local, "peer", d.cfg.Peer)
	return res, nil
}

func (d *Driver) transition(to State) {
	if d.state.Terminal() {
		d.log.Warn("ignoring transition out of a final state", "from", d.state, "to", to)
		return
	}
	d.log.Debug("handshake state", "from", d.state, "to", to, "final", to.Terminal())
	d.state = to
}

// send builds one segment from the local endpoint to the peer and hands it to
// the transport.
func (d *Driver) send(name string, flags packet.Flags, seq, ack uint32) error {
	b, err := packet.BuildInto(d.out[:], packet.Segment{
		Src:     d.cfg.Local.Addr(),
		Dst:     d.cfg.Peer.Addr(),
		SrcPort: d.cfg.Local.Port(),
		DstPort: d.cfg.Peer.Port(),
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Window:  d.cfg.Window,
		ID:      d.cfg.IPID,
	})
	if err != nil {
		return &TransmitError{Segment: name, Err: err}
	}

	if _, err := d.conn.Send(b, d.cfg.Peer); err != nil {
		d.log.Error("send failed", "segment", name, "error", err)
		return &TransmitError{Segment: name, Err: err}
	}
	d.metrics.sent(flags)
	d.log.Info("sent packet",
		"seq", seq,
		"ack", ack,
		"syn", flags.Has(packet.FlagSYN),
		"ackFlag", flags.Has(packet.FlagACK),
	)
	return nil
}

// awaitSynAck reads datagrams until one matches, discarding the rest.
func (d *Driver) awaitSynAck(ctx context.Context, expectedAck uint32) (packet.Datagram, int, error) {
	if d.in == nil {
		d.in = make([]byte, transport.MaxDatagramLen)
	}
	m := Matcher{Local: d.cfg.Local, Peer: d.cfg.Peer, ExpectedAck: expectedAck}

	var deadline time.Time
	if d.cfg.MaxWait > 0 {
		deadline = d.now().Add(d.cfg.MaxWait)
	}

	discarded := 0
	for {
		if err := ctx.Err(); err != nil {
			return packet.Datagram{}, discarded, err
		}
		timeout := d.cfg.ReceiveTimeout
		if !deadline.IsZero() {
			remaining := deadline.Sub(d.now())
			if remaining <= 0 {
				return packet.Datagram{}, discarded, fmt.Errorf("%w: nothing matched within %v", ErrHandshakeTimeout, d.cfg.MaxWait)
			}
			timeout = min(timeout, remaining)
		}

		n, err := d.conn.Receive(d.in, timeout)
		if err != nil {
			return packet.Datagram{}, discarded, fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		d.metrics.received()

		dg, reason := m.Match(d.in[:n])
		if reason == Matched {
			return dg, discarded, nil
		}
		discarded++
		d.metrics.discarded(reason)
		if reason == Malformed {
			d.log.Debug("discard datagram", "reason", reason, "len", n)
		} else {
			d.log.Debug("discard datagram", "reason", reason, "packet", dg.Summary())
		}
	}
}
