// Command echo-server listens on a TCP port and echoes what it reads. It is
// the peer rawshake is pointed at when trying handshakes on loopback.
package main

import (
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
)

func handleConnection(log *slog.Logger, conn *net.TCPConn) {
	log = log.With("remote", conn.RemoteAddr())
	log.Info("connection accepted")
	defer conn.Close()

	buf := make([]byte, 4*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Debug("connection closed", "error", err)
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			log.Debug("write", "error", err)
			return
		}
	}
}

func handleListener(log *slog.Logger, l *net.TCPListener) error {
	defer l.Close()
	for {
		conn, err := l.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handleConnection(log, conn)
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:12345", "listen address")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tcpAddr, err := net.ResolveTCPAddr("tcp4", *addr)
	if err != nil {
		log.Error("resolve listen address", "addr", *addr, "error", err)
		os.Exit(1)
	}
	l, err := net.ListenTCP("tcp4", tcpAddr)
	if err != nil {
		log.Error("listen", "addr", tcpAddr, "error", err)
		os.Exit(1)
	}
	log.Info("listening", "addr", l.Addr())

	if err := handleListener(log, l); err != nil {
		log.Error("accept", "error", err)
		os.Exit(1)
	}
}
