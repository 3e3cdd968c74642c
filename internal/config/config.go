// Package config holds the addressing configuration of a handshake run and
// loads it from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nozo-moto/rawshake/internal/handshake"
)

// Config is the operator-facing configuration. Destination may be an IPv4
// literal or a hostname; see Resolve.
type Config struct {
	Destination     string        `yaml:"destination"`
	DestinationPort uint16        `yaml:"destination_port"`
	Source          string        `yaml:"source"`
	SourcePort      uint16        `yaml:"source_port"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`
	MaxWait         time.Duration `yaml:"max_wait"`

	// InitialSeq, when set, skips the interactive prompt.
	InitialSeq *uint32 `yaml:"initial_seq"`

	Window uint16 `yaml:"window"`
	IPID   uint16 `yaml:"ip_id"`

	SingleSocket bool `yaml:"single_socket"`
	BPFFilter    bool `yaml:"bpf_filter"`

	CaptureFile string `yaml:"capture_file"`
	MetricsFile string `yaml:"metrics_file"`
	// DNSServer is host:port of the resolver used for hostname destinations.
	// Empty means the first nameserver in /etc/resolv.conf.
	DNSServer string `yaml:"dns_server"`
}

// Default returns the reference configuration: loopback on both ends,
// server port 12345, client port 54321, 3 second receive timeout.
func Default() Config {
	return Config{
		Destination:     "127.0.0.1",
		DestinationPort: 12345,
		Source:          "127.0.0.1",
		SourcePort:      54321,
		ReceiveTimeout:  handshake.DefaultReceiveTimeout,
		MaxWait:         10 * time.Second,
		Window:          8192,
		IPID:            54321,
		BPFFilter:       true,
	}
}

// Load reads a YAML file over c. Keys missing from the file keep their value
// in c; unknown keys are an error.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return c.Decode(data)
}

// Decode parses YAML over c.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks everything that can be checked without the network.
func (c Config) Validate() error {
	var errs []error
	if c.Destination == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if c.DestinationPort == 0 {
		errs = append(errs, errors.New("destination_port must be non-zero"))
	}
	if src, err := netip.ParseAddr(c.Source); err != nil || !src.Is4() {
		errs = append(errs, fmt.Errorf("source must be an ipv4 address, got %q", c.Source))
	}
	if c.ReceiveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("receive_timeout must be positive, got %v", c.ReceiveTimeout))
	}
	if c.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("max_wait must not be negative, got %v", c.MaxWait))
	}
	return errors.Join(errs...)
}

// Handshake converts a resolved configuration into the driver's.
func (c Config) Handshake(dst netip.Addr, srcPort uint16, isn uint32) (handshake.Config, error) {
	src, err := netip.ParseAddr(c.Source)
	if err != nil {
		return handshake.Config{}, fmt.Errorf("source: %w", err)
	}
	return handshake.Config{
		Local:          netip.AddrPortFrom(src, srcPort),
		Peer:           netip.AddrPortFrom(dst, c.DestinationPort),
		InitialSeq:     isn,
		ReceiveTimeout: c.ReceiveTimeout,
		MaxWait:        c.MaxWait,
		Window:         c.Window,
		IPID:           c.IPID,
	}, nil
}
