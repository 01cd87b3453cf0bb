// Package config holds netsimd's daemon-wide configuration: flags and
// environment variables, populated by cmd/netsimd and threaded through to
// every singleton at startup. It deliberately does not parse an ini file
// itself; the only file it reads is the optional --config JSON overlay.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Config is the daemon's resolved configuration, after flags, environment
// fallbacks and an optional --config JSON overlay have all been applied.
type Config struct {
	Instance uint16 `json:"instance" default:"1"`
	HciPort  uint32 `json:"hci_port"` // 0 means "derive from Instance"

	NoCliUI bool `json:"no_cli_ui"`
	NoWebUI bool `json:"no_web_ui"`

	Pcap bool `json:"pcap"`
	Dev  bool `json:"dev"`

	// Beacons optionally points at a YAML document describing the test
	// beacons dev mode stands up; empty means the built-in default set.
	Beacons string `json:"beacons"`

	Vsock uint16 `json:"vsock"` // 0 means disabled

	// FdStartup is the inline JSON `{devices:[...]}` document describing
	// pre-opened fd pipe pairs handed to the daemon by its launcher; empty
	// means no fd-pipe transport.
	FdStartup string `json:"fd_startup"`

	// HostDns lists the DNS server(s) handed to the network egress for
	// guest resolution; HttpProxy is a proxy URL the egress routes guest
	// HTTP traffic through; WifiTap names a host TAP device to use for
	// egress instead of the built-in backend. All three are threaded into
	// the Wi-Fi medium at startup.
	HostDns   string `json:"host_dns"`
	HttpProxy string `json:"http_proxy"`
	WifiTap   string `json:"wifi_tap"`

	ForwardHostMdns bool `json:"forward_host_mdns"`

	// ConnectorInstance switches the daemon into connector mode: instead of
	// serving chips locally, the fd-startup pipes are forwarded to the
	// daemon instance with this number. 0 means primary mode.
	ConnectorInstance uint16 `json:"connector_instance"`

	LogLevel logrus.Level `json:"-" default:"4"` // logrus.InfoLevel
}

// baseHciPort is the instance-1 default HCI TCP port.
const baseHciPort = 6402

// DefaultConfig returns a Config with every default value applied, before
// flags/env/--config overlays.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// HciPortForInstance derives an instance's default HCI TCP port
// (6402 + instance - 1). Connector mode uses this to locate the target
// daemon without reading its discovery file.
func HciPortForInstance(instance uint16) uint32 {
	return baseHciPort + uint32(instance) - 1
}

// ResolvedHciPort returns HciPort if set explicitly, otherwise the
// instance-derived default.
func (c *Config) ResolvedHciPort() uint32 {
	if c.HciPort != 0 {
		return c.HciPort
	}
	return HciPortForInstance(c.Instance)
}

// ApplyEnv overlays the environment fallbacks
// NETSIM_INSTANCE and NETSIM_HCI_PORT. Flags set on the command line take
// precedence and should be applied by the caller before or after this,
// consistently with cobra's own flag-vs-default precedence; ApplyEnv only
// fills in values still at their zero/default state.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("NETSIM_INSTANCE"); v != "" && c.Instance == 1 {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("config: NETSIM_INSTANCE: %w", err)
		}
		c.Instance = uint16(n)
	}
	if v := os.Getenv("NETSIM_HCI_PORT"); v != "" && c.HciPort == 0 {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: NETSIM_HCI_PORT: %w", err)
		}
		c.HciPort = uint32(n)
	}
	return nil
}

// MergeJSONFile JSON-merges the document at path onto c: only fields
// present in the document are overwritten.
func (c *Config) MergeJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the process-wide logrus.Logger: TextFormatter with full
// timestamps for an interactive terminal, plain (no-color) formatting
// otherwise, level set from c.LogLevel.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   !term.IsTerminal(int(os.Stdout.Fd())),
	})
	return logger
}
