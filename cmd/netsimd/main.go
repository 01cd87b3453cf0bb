package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/google/netsim-packet-core/internal/daemon"
	"github.com/google/netsim-packet-core/pkg/config"
)

var version = "dev"

// rootCmd represents netsimd's single entry point: there are no
// subcommands, only flags, matching the daemon's role as one long-running
// process rather than a CLI toolbox.
var rootCmd = &cobra.Command{
	Use:     "netsimd",
	Short:   "Network simulator daemon for emulated wireless radios",
	Version: version,
	RunE:    runDaemon,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	flags := rootCmd.PersistentFlags()
	flags.Uint16("instance", 1, "netsimd instance number")
	flags.Uint32("hci_port", 0, "override the HCI TCP port (default 6402 + instance - 1)")
	flags.Bool("no_cli_ui", false, "disable the CLI-facing UI frontend")
	flags.Bool("no_web_ui", false, "disable the web-facing UI frontend")
	flags.Bool("pcap", false, "start packet capture immediately for every new chip")
	flags.Bool("dev", false, "enable dev mode (test beacons, disables idle auto-shutdown)")
	flags.String("beacons", "", "path to a YAML document describing dev-mode test beacons")
	flags.Uint16("vsock", 0, "add a vsock listener on this port")
	flags.String("fd_startup", "", "inline JSON describing pre-opened fd pipe pairs")
	flags.String("config", "", "path to a JSON config file to merge over the defaults")
	flags.String("host_dns", "", "DNS server(s) to hand to Wi-Fi guests for resolution")
	flags.String("http_proxy", "", "proxy URL to route Wi-Fi guest HTTP traffic through")
	flags.Bool("forward_host_mdns", false, "forward host mDNS traffic through the Wi-Fi backend")
	flags.String("wifi_tap", "", "TAP device to use for Wi-Fi egress instead of the built-in backend")
	flags.Uint16("connector_instance", 0, "forward fd-startup packets to this daemon instance instead of serving locally")
	flags.String("log_level", "info", "log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.NewLogger()
	if level, _ := cmd.Flags().GetString("log_level"); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("netsimd: %w", err)
		}
		cfg.LogLevel = parsed
		logger.SetLevel(parsed)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("netsimd: %w", err)
	}
	defer d.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithField("hci_port", cfg.ResolvedHciPort()).Info("netsimd: starting")
	return d.Run(ctx)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	cfg.Instance, _ = cmd.Flags().GetUint16("instance")
	cfg.HciPort, _ = cmd.Flags().GetUint32("hci_port")
	cfg.NoCliUI, _ = cmd.Flags().GetBool("no_cli_ui")
	cfg.NoWebUI, _ = cmd.Flags().GetBool("no_web_ui")
	cfg.Pcap, _ = cmd.Flags().GetBool("pcap")
	cfg.Dev, _ = cmd.Flags().GetBool("dev")
	cfg.Beacons, _ = cmd.Flags().GetString("beacons")
	cfg.Vsock, _ = cmd.Flags().GetUint16("vsock")
	cfg.FdStartup, _ = cmd.Flags().GetString("fd_startup")
	cfg.HostDns, _ = cmd.Flags().GetString("host_dns")
	cfg.HttpProxy, _ = cmd.Flags().GetString("http_proxy")
	cfg.ForwardHostMdns, _ = cmd.Flags().GetBool("forward_host_mdns")
	cfg.WifiTap, _ = cmd.Flags().GetString("wifi_tap")
	cfg.ConnectorInstance, _ = cmd.Flags().GetUint16("connector_instance")

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("netsimd: %w", err)
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.MergeJSONFile(path); err != nil {
			return nil, fmt.Errorf("netsimd: %w", err)
		}
	}
	return cfg, nil
}
