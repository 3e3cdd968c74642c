package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// Resolver looks up the IPv4 address of a hostname destination.
type Resolver struct {
	// Server is host:port of the DNS server. Empty means the first
	// nameserver in /etc/resolv.conf.
	Server string
	Client *dns.Client
}

// ResolveDestination returns the destination as an IPv4 address. Literals
// are returned as is; hostnames are looked up with an A query.
func (c Config) ResolveDestination(ctx context.Context) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(c.Destination); err == nil {
		if !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("destination %v is not ipv4", addr)
		}
		return addr, nil
	}
	r := Resolver{Server: c.DNSServer}
	return r.LookupA(ctx, c.Destination)
}

// LookupA returns the first A record for host.
func (r Resolver) LookupA(ctx context.Context, host string) (netip.Addr, error) {
	server := r.Server
	if server == "" {
		cc, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("read %s: %w", resolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return netip.Addr{}, fmt.Errorf("no nameserver in %s", resolvConf)
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	}
	client := r.Client
	if client == nil {
		client = new(dns.Client)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	in, _, err := client.ExchangeContext(ctx, m, server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s via %s: %w", host, server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("resolve %s via %s: %s", host, server, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s via %s: no A record", host, server)
}

// EphemeralPort asks the kernel for a free TCP port on addr by binding a
// listener to port 0 and releasing it again.
func EphemeralPort(addr netip.Addr) (uint16, error) {
	l, err := net.Listen("tcp4", net.JoinHostPort(addr.String(), "0"))
	if err != nil {
		return 0, fmt.Errorf("pick source port: %w", err)
	}
	defer l.Close()

	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, errors.New("pick source port: kernel returned port 0")
	}
	return uint16(port), nil
}
