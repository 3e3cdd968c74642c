package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nozo-moto/rawshake/internal/config"
	"github.com/nozo-moto/rawshake/internal/handshake"
	"github.com/nozo-moto/rawshake/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

// run returns the process exit code: 1 when the run could not be set up
// (configuration, address resolution, sockets), 0 otherwise, whether or not
// the handshake itself completed.
func run(args []string, stdin *os.File, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	dst, err := cfg.ResolveDestination(ctx)
	if err != nil {
		log.Error("resolve destination", "destination", cfg.Destination, "error", err)
		return 1
	}
	src := netip.MustParseAddr(cfg.Source)
	srcPort := cfg.SourcePort
	if srcPort == 0 {
		if srcPort, err = config.EphemeralPort(src); err != nil {
			log.Error("pick source port", "error", err)
			return 1
		}
	}

	isn, err := initialSeq(cfg, stdin, stderr)
	if err != nil {
		log.Error("read initial sequence number", "error", err)
		return 1
	}

	hcfg, err := cfg.Handshake(dst, srcPort, isn)
	if err != nil {
		log.Error("handshake config", "error", err)
		return 1
	}

	tOpts := transport.Options{SingleSocket: cfg.SingleSocket, Logger: log}
	if cfg.BPFFilter {
		tOpts.Filter = &transport.FilterSpec{Peer: hcfg.Peer, LocalPort: hcfg.Local.Port()}
	}
	raw, err := transport.Open(tOpts)
	if err != nil {
		log.Error("Raw socket creation failed", "error", err)
		return 1
	}
	var conn transport.Conn = raw

	if cfg.CaptureFile != "" {
		f, err := os.Create(cfg.CaptureFile)
		if err != nil {
			_ = raw.Close()
			log.Error("create capture file", "error", err)
			return 1
		}
		defer f.Close()
		if conn, err = transport.NewCapture(raw, f, log); err != nil {
			_ = raw.Close()
			log.Error("write capture header", "error", err)
			return 1
		}
	}

	reg := prometheus.NewRegistry()
	d, err := handshake.New(conn, hcfg,
		handshake.WithLogger(log),
		handshake.WithMetrics(handshake.NewMetrics(reg)),
	)
	if err != nil {
		_ = conn.Close()
		log.Error("handshake setup", "error", err)
		return 1
	}

	log.Info("starting handshake",
		"local", hcfg.Local,
		"peer", hcfg.Peer,
		"initialSeq", hcfg.InitialSeq,
	)
	res, err := d.Run(ctx)
	if err != nil {
		log.Warn("handshake incomplete", "state", res.State, "error", err)
	} else {
		log.Info("handshake done", "state", res.State, "peerSeq", res.PeerSeq, "discarded", res.Discarded)
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, reg); err != nil {
			log.Warn("write metrics", "file", cfg.MetricsFile, "error", err)
		}
	}
	return 0
}
