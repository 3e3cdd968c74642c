package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/nozo-moto/rawshake/internal/config"
)

type options struct {
	cfg     config.Config
	verbose bool
}

// parseFlags layers command-line flags over an optional YAML file over
// config.Default(). Only flags given explicitly override the file.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("rawshake", flag.ContinueOnError)
	fs.SetOutput(stderr)

	def := config.Default()
	var (
		configPath = fs.String("config", "", "YAML configuration file")
		dst        = fs.String("dst", def.Destination, "destination address or hostname")
		dport      = fs.Uint("dport", uint(def.DestinationPort), "destination port")
		src        = fs.String("src", def.Source, "source address")
		sport      = fs.Uint("sport", uint(def.SourcePort), "source port, 0 picks an ephemeral port")
		timeout    = fs.Duration("timeout", def.ReceiveTimeout, "give up after this long without a datagram")
		maxWait    = fs.Duration("max-wait", def.MaxWait, "upper bound on the whole SYN-ACK wait, 0 disables")
		seq        = fs.Uint64("seq", 0, "initial sequence number; prompts when unset")
		single     = fs.Bool("single-socket", def.SingleSocket, "send and receive on one raw socket")
		bpf        = fs.Bool("bpf", def.BPFFilter, "attach a kernel filter for the peer to the receive socket")
		pcap       = fs.String("pcap", "", "write sent and received datagrams to this pcap file")
		metrics    = fs.String("metrics-file", "", "write prometheus metrics to this file at exit")
		dnsServer  = fs.String("dns", "", "DNS server host:port for hostname destinations")
		verbose    = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := def
	if *configPath != "" {
		if err := cfg.Load(*configPath); err != nil {
			return options{}, err
		}
	}

	var errs []error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dst":
			cfg.Destination = *dst
		case "dport":
			errs = append(errs, setPort(&cfg.DestinationPort, "dport", *dport))
		case "src":
			cfg.Source = *src
		case "sport":
			errs = append(errs, setPort(&cfg.SourcePort, "sport", *sport))
		case "timeout":
			cfg.ReceiveTimeout = *timeout
		case "max-wait":
			cfg.MaxWait = *maxWait
		case "seq":
			if *seq > 0xffffffff {
				errs = append(errs, fmt.Errorf("-seq %d does not fit in 32 bits", *seq))
				return
			}
			v := uint32(*seq)
			cfg.InitialSeq = &v
		case "single-socket":
			cfg.SingleSocket = *single
		case "bpf":
			cfg.BPFFilter = *bpf
		case "pcap":
			cfg.CaptureFile = *pcap
		case "metrics-file":
			cfg.MetricsFile = *metrics
		case "dns":
			cfg.DNSServer = *dnsServer
		}
	})
	if err := errors.Join(errs...); err != nil {
		return options{}, err
	}
	if err := cfg.Validate(); err != nil {
		return options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return options{cfg: cfg, verbose: *verbose}, nil
}

func setPort(dst *uint16, name string, v uint) error {
	if v > 0xffff {
		return fmt.Errorf("-%s %d is not a port", name, v)
	}
	*dst = uint16(v)
	return nil
}

// initialSeq returns the configured ISN or reads one integer from in,
// prompting first when in is a terminal.
func initialSeq(cfg config.Config, in *os.File, prompt io.Writer) (uint32, error) {
	if cfg.InitialSeq != nil {
		return *cfg.InitialSeq, nil
	}
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(prompt, "Enter the initial sequence number to send with SYN: ")
	}
	return readSeq(in)
}

func readSeq(r io.Reader) (uint32, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return 0, fmt.Errorf("no sequence number given: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(line), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("sequence number: %w", err)
	}
	return uint32(v), nil
}
