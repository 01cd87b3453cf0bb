// Package netsimio resolves the handful of on-disk paths the daemon shares
// with its emulator clients: the discovery ini file a frontend reads to
// find the daemon's ports, the pcap directory captures are written under,
// and the session-stats file dropped on shutdown. It is deliberately not a
// general ini/config parser; that housekeeping is out of core scope.
package netsimio

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// DiscoveryDir resolves the directory netsim[_<instance>].ini is written
// to, honoring $TMPDIR first and otherwise falling back to the
// platform-conventional runtime/temp directory.
func DiscoveryDir() string {
	if dir := os.Getenv("TMPDIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Caches", "TemporaryItems")
		}
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Temp")
		}
	}
	return os.TempDir()
}

// DiscoveryFilePath returns the path of the instance's discovery ini file,
// e.g. "netsim.ini" for instance 1, "netsim_2.ini" for instance 2.
func DiscoveryFilePath(instance uint16) string {
	name := "netsim.ini"
	if instance > 1 {
		name = fmt.Sprintf("netsim_%d.ini", instance)
	}
	return filepath.Join(DiscoveryDir(), name)
}

// DiscoveryInfo is the set of key=value pairs written to the discovery file.
type DiscoveryInfo struct {
	GrpcPort uint32
	WebPort  uint32 // 0 means omitted
}

// WriteDiscoveryFile writes the plain-text key=value discovery file
// consumed by frontends looking for this daemon instance's ports.
func WriteDiscoveryFile(instance uint16, info DiscoveryInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "grpc.port=%d\n", info.GrpcPort)
	if info.WebPort != 0 {
		fmt.Fprintf(&b, "web.port=%d\n", info.WebPort)
	}
	path := DiscoveryFilePath(instance)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("netsimio: write discovery file %s: %w", path, err)
	}
	return nil
}

// RemoveDiscoveryFile deletes the instance's discovery file, ignoring a
// not-exist error since shutdown cleanup may race a manual removal.
func RemoveDiscoveryFile(instance uint16) error {
	if err := os.Remove(DiscoveryFilePath(instance)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// currentUser returns the current username, or "unknown" if it cannot be
// resolved (e.g. in a container without /etc/passwd entries).
func currentUser() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "unknown"
	}
	return u.Username
}

// PcapDir returns "<tmp>/netsimd/<user>/pcaps", creating it if necessary.
func PcapDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "netsimd", currentUser(), "pcaps")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("netsimio: create pcap dir: %w", err)
	}
	return dir, nil
}

// SessionStatsPath returns "<tmp>/netsimd/<user>/session_stats.json",
// creating its parent directory if necessary.
func SessionStatsPath() (string, error) {
	dir := filepath.Join(os.TempDir(), "netsimd", currentUser())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("netsimio: create session dir: %w", err)
	}
	return filepath.Join(dir, "session_stats.json"), nil
}
