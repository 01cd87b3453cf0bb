package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/groutine"
)

// connectorDialBackoff paces retries while the target daemon instance is
// still coming up: entry i is the wait after failed attempt i+1, so the
// trailing zero makes the dial give up right after its last attempt.
var connectorDialBackoff = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 0,
}

// FdConnector runs the daemon in connector mode: instead of serving the
// fd-startup chips locally, each chip's fd pair is spliced onto a TCP
// connection to another daemon instance's HCI socket, which owns the
// radio emulation for the whole fleet.
type FdConnector struct {
	Logger *logrus.Logger
}

// Start dials addr once per Bluetooth chip in cfg and forwards bytes in
// both directions until ctx is cancelled or either side closes. It returns
// once every chip is connected; a chip whose dial fails after all retries
// aborts the whole connector, since a partially-forwarded fleet is worse
// than a visible startup failure.
func (c *FdConnector) Start(ctx context.Context, cfg FdPipeConfig, addr string) error {
	logger := c.logger()
	for _, dev := range cfg.Devices {
		for _, ch := range dev.Chips {
			if ch.Kind != "bluetooth" {
				logger.WithFields(logrus.Fields{"device": dev.Name, "kind": ch.Kind}).Warn("fdconnector: only bluetooth chips can be forwarded, skipping")
				continue
			}

			conn, err := dialWithBackoff(ctx, addr)
			if err != nil {
				return fmt.Errorf("transport: fd connector dial %s: %w", addr, err)
			}
			logger.WithFields(logrus.Fields{"device": dev.Name, "target": addr}).Info("fdconnector: chip forwarded")

			fin := os.NewFile(uintptr(ch.FdIn), fmt.Sprintf("fdin-%s", dev.Name))
			fout := os.NewFile(uintptr(ch.FdOut), fmt.Sprintf("fdout-%s", dev.Name))

			groutine.Go(ctx, fmt.Sprintf("fdconnector_%s_up", dev.Name), func(ctx context.Context) {
				io.Copy(conn, fout)
				if tcp, ok := conn.(*net.TCPConn); ok {
					tcp.CloseWrite()
				}
			})
			groutine.Go(ctx, fmt.Sprintf("fdconnector_%s_down", dev.Name), func(ctx context.Context) {
				io.Copy(fin, conn)
				fin.Close()
			})
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
		}
	}
	return nil
}

func dialWithBackoff(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	for _, wait := range connectorDialBackoff {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *FdConnector) logger() *logrus.Logger {
	if c.Logger == nil {
		return logrus.New()
	}
	return c.Logger
}
