// Package daemon wires every process-wide singleton into one running
// netsimd instance: registry, dispatcher, captures, the backend managers,
// the configured transports, the control surface, and the inactivity
// supervisor, started and torn down in a fixed order.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/capture"
	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/control"
	"github.com/google/netsim-packet-core/internal/dispatch"
	"github.com/google/netsim-packet-core/internal/dns"
	"github.com/google/netsim-packet-core/internal/eventbus"
	"github.com/google/netsim-packet-core/internal/idle"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/netsimio"
	"github.com/google/netsim-packet-core/internal/registry"
	"github.com/google/netsim-packet-core/internal/transport"
	"github.com/google/netsim-packet-core/pkg/config"

	"google.golang.org/grpc"
)

// Daemon is one running netsimd instance: the wired-together process-wide
// singletons, plus the transports selected by configuration.
type Daemon struct {
	Config *config.Config
	Logger *logrus.Logger

	Bus        *eventbus.Bus
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Captures   *capture.Captures
	Surface    *control.Surface
	Idle       *idle.Supervisor
	Shutdowner *idle.Shutdowner
	Stats      *idle.SessionStats
	Dns        *dns.Manager

	HciSocket     *transport.HciSocket
	GrpcTransport *transport.GrpcStream
	WebSocket     *transport.WebSocket
	FdPipe        *transport.FdPipe

	grpcServer *grpc.Server
	wifi       *chip.WifiManager
	bt         chip.RootcanalBackend

	unsubCaptures func()
	unsubShutdown func()
	unsubStats    func()
}

// New builds every singleton but does not start listening; call Run to
// bring the daemon up.
func New(cfg *config.Config, logger *logrus.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logrus.New()
	}

	pcapDir, err := netsimio.PcapDir()
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve pcap dir: %w", err)
	}

	d := &Daemon{Config: cfg, Logger: logger}

	d.Bus = eventbus.New(logger)
	d.Captures = capture.New(pcapDir, cfg.Pcap, logger)
	d.unsubCaptures = d.Captures.Subscribe(d.Bus)

	d.bt = chip.NewDefaultRootcanalBackend()
	medium := chip.NewDefaultWifiMedium(chip.WifiNetworkConfig{
		HostDns:   cfg.HostDns,
		HttpProxy: cfg.HttpProxy,
		Tap:       cfg.WifiTap,
	})
	if cfg.WifiTap != "" {
		logger.WithField("tap", cfg.WifiTap).Warn("daemon: TAP egress not available in this build, using the in-process egress")
	}
	d.wifi = chip.InitWifiManager(medium, logger)

	d.Dns = dns.New()
	d.wifi.SetNetworkSniffer(d.Dns.AddFromEthernetSlice)

	backends := &registry.DefaultBackends{
		Bluetooth: d.bt,
		Wifi:      d.wifi,
		Logger:    logger,
	}
	d.Registry = registry.New(d.Bus, backends, logger)

	// UWB needs the registry itself as its PositionLookup, so it is wired
	// after the registry exists; DefaultBackends.New only dereferences
	// Uwb lazily, at AddChip time, so this ordering is safe.
	uwbManager := chip.InitUwbManager(chip.NewDefaultPicaBackend(), d.Registry, logger)
	backends.Uwb = uwbManager

	d.Dispatcher = dispatch.New(d.Registry, d.Captures, logger)

	d.Surface = &control.Surface{
		Version:  "netsimd-core",
		Registry: d.Registry,
		Captures: d.Captures,
		Logger:   logger,
	}

	d.Idle = idle.New(d.Registry, d.Bus, logger)
	d.Idle.SetOverride(cfg.Dev)

	d.Shutdowner = &idle.Shutdowner{
		StopGrpc: func() {
			if d.grpcServer != nil {
				d.grpcServer.GracefulStop()
			}
		},
		StopWifi: func() {
			d.wifi.Shutdown()
		},
		StopBluetooth: func() {},
		StopCaptures: func() {
			d.Captures.CloseAll()
		},
		Logger: logger,
	}
	d.unsubShutdown = d.Shutdowner.Subscribe(d.Bus)

	statsPath, err := netsimio.SessionStatsPath()
	if err != nil {
		logger.WithError(err).Warn("daemon: session stats path unavailable, stats disabled")
	} else {
		d.Stats = idle.NewSessionStats(statsPath, logger)
		d.unsubStats = d.Stats.Subscribe(d.Bus)
	}

	d.HciSocket = &transport.HciSocket{Registry: d.Registry, Dispatcher: d.Dispatcher, Logger: logger}
	d.GrpcTransport = &transport.GrpcStream{Registry: d.Registry, Dispatcher: d.Dispatcher, Logger: logger}
	d.WebSocket = &transport.WebSocket{Registry: d.Registry, Dispatcher: d.Dispatcher, Logger: logger}
	d.FdPipe = &transport.FdPipe{Registry: d.Registry, Dispatcher: d.Dispatcher, Logger: logger}

	return d, nil
}

// Run starts the transports configuration selects and the inactivity
// supervisor, then blocks until ctx is cancelled. With a connector
// instance configured, the daemon forwards its fd-startup chips to that
// instance instead of serving anything locally.
func (d *Daemon) Run(ctx context.Context) error {
	if d.Config.ConnectorInstance != 0 {
		return d.runConnector(ctx)
	}

	d.Idle.Run(ctx)

	if err := d.HciSocket.Serve(ctx, d.Config.ResolvedHciPort()); err != nil {
		return fmt.Errorf("daemon: hci socket: %w", err)
	}

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("daemon: grpc listen: %w", err)
	}
	d.grpcServer = grpc.NewServer()
	d.GrpcTransport.Register(d.grpcServer)
	go func() {
		if err := d.grpcServer.Serve(grpcLis); err != nil {
			d.Logger.WithError(err).Debug("daemon: grpc server stopped")
		}
	}()

	discovery := netsimio.DiscoveryInfo{GrpcPort: uint32(grpcLis.Addr().(*net.TCPAddr).Port)}

	if !d.Config.NoWebUI {
		webLis, err := d.WebSocket.Listen(ctx, "127.0.0.1:0")
		if err != nil {
			d.Logger.WithError(err).Warn("daemon: websocket listener failed to start")
		} else {
			discovery.WebPort = uint32(webLis.Addr().(*net.TCPAddr).Port)
		}
	}

	if err := netsimio.WriteDiscoveryFile(d.Config.Instance, discovery); err != nil {
		d.Logger.WithError(err).Warn("daemon: failed to write discovery file")
	}
	defer func() {
		if err := netsimio.RemoveDiscoveryFile(d.Config.Instance); err != nil {
			d.Logger.WithError(err).Warn("daemon: failed to remove discovery file")
		}
	}()

	if d.Config.Dev {
		if err := d.startTestBeacons(); err != nil {
			d.Logger.WithError(err).Warn("daemon: failed to start test beacons")
		}
	}

	if d.Config.ForwardHostMdns {
		if err := d.wifi.StartMdnsForwarder(ctx); err != nil {
			d.Logger.WithError(err).Warn("daemon: failed to start mdns forwarder")
		}
	}

	if d.Config.FdStartup != "" {
		fdCfg, err := transport.ParseFdPipeConfig(strings.NewReader(d.Config.FdStartup))
		if err != nil {
			return fmt.Errorf("daemon: fd startup: %w", err)
		}
		if err := d.FdPipe.Start(ctx, fdCfg); err != nil {
			return fmt.Errorf("daemon: fd pipe: %w", err)
		}
	}

	if d.Config.Vsock != 0 {
		d.Logger.WithField("vsock_port", d.Config.Vsock).Warn("daemon: vsock transport requested but not available in this build")
	}

	<-ctx.Done()
	return nil
}

// runConnector forwards the fd-startup chips to the configured daemon
// instance's HCI socket and blocks until ctx is cancelled. Connector mode
// requires an fd-startup document: with no pipes there is nothing to
// forward.
func (d *Daemon) runConnector(ctx context.Context) error {
	if d.Config.FdStartup == "" {
		return fmt.Errorf("daemon: connector mode requires fd startup pipes")
	}
	fdCfg, err := transport.ParseFdPipeConfig(strings.NewReader(d.Config.FdStartup))
	if err != nil {
		return fmt.Errorf("daemon: fd startup: %w", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", config.HciPortForInstance(d.Config.ConnectorInstance))
	d.Logger.WithField("target", addr).Info("daemon: starting in connector mode")

	connector := &transport.FdConnector{Logger: d.Logger}
	if err := connector.Start(ctx, fdCfg, addr); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// dropPublisher discards beacon advertisements: dev-mode test beacons have
// no bound transport, and routing through the dispatcher would log a
// missing-transport warning on every advertising interval.
type dropPublisher struct{}

func (dropPublisher) HandleResponse(model.ChipId, []byte, model.PacketType) error { return nil }

// startTestBeacons registers the dev-mode beacon set: the YAML document at
// Config.Beacons if given, the built-in defaults otherwise.
func (d *Daemon) startTestBeacons() error {
	doc := chip.DefaultTestBeacons()
	if d.Config.Beacons != "" {
		f, err := os.Open(d.Config.Beacons)
		if err != nil {
			return fmt.Errorf("open beacon config: %w", err)
		}
		doc, err = chip.ParseBeaconConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	for _, entry := range doc.Beacons {
		params, err := entry.Params()
		if err != nil {
			return err
		}
		result, err := d.Registry.AddChip(dropPublisher{}, registry.AddChipParams{
			DeviceGuid: "beacon-" + entry.Name,
			DeviceName: entry.Name,
			Kind:       model.ChipKindBluetoothBeacon,
			ChipName:   entry.Name,
			Address:    entry.Address,
			Beacon:     params,
		})
		if err != nil {
			return err
		}
		d.Logger.WithFields(logrus.Fields{"chip_id": result.ChipID, "name": entry.Name}).Info("daemon: test beacon started")
	}
	return nil
}

// Close tears down subscriptions this Daemon created. Transports and
// backend goroutines are expected to have already observed ctx.Done() by
// the time Close is called.
func (d *Daemon) Close() {
	if d.unsubCaptures != nil {
		d.unsubCaptures()
	}
	if d.unsubShutdown != nil {
		d.unsubShutdown()
	}
	if d.unsubStats != nil {
		d.unsubStats()
	}
}

// PublishEvent is a narrow escape hatch for tests that need to observe bus
// traffic without reaching into Daemon's fields directly.
func (d *Daemon) PublishEvent(ev model.Event) {
	d.Bus.Publish(ev)
}
