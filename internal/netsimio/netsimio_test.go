package netsimio_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/netsim-packet-core/internal/netsimio"
	"github.com/google/netsim-packet-core/internal/testutil"
)

func TestDiscoveryFilePathNamesInstanceOne(t *testing.T) {
	require.True(t, strings.HasSuffix(netsimio.DiscoveryFilePath(1), "netsim.ini"))
}

func TestDiscoveryFilePathNamesHigherInstances(t *testing.T) {
	require.True(t, strings.HasSuffix(netsimio.DiscoveryFilePath(2), "netsim_2.ini"))
}

func TestDiscoveryDirHonorsTMPDIR(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	require.Equal(t, dir, netsimio.DiscoveryDir())
}

func TestWriteDiscoveryFileWritesGrpcPort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	require.NoError(t, netsimio.WriteDiscoveryFile(1, netsimio.DiscoveryInfo{GrpcPort: 6402}))

	raw, err := os.ReadFile(netsimio.DiscoveryFilePath(1))
	require.NoError(t, err)
	require.Contains(t, string(raw), "grpc.port=6402")
	require.NotContains(t, string(raw), "web.port")
}

func TestWriteDiscoveryFileIncludesWebPortWhenSet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	require.NoError(t, netsimio.WriteDiscoveryFile(1, netsimio.DiscoveryInfo{GrpcPort: 6402, WebPort: 8080}))

	raw, err := os.ReadFile(netsimio.DiscoveryFilePath(1))
	require.NoError(t, err)
	require.Contains(t, string(raw), "web.port=8080")
}

func TestDiscoveryFileContents(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	require.NoError(t, netsimio.WriteDiscoveryFile(1, netsimio.DiscoveryInfo{GrpcPort: 6402, WebPort: 7681}))

	raw, err := os.ReadFile(netsimio.DiscoveryFilePath(1))
	require.NoError(t, err)

	ta := testutil.NewTextAsserter(t).WithOptions(testutil.WithTrimSpace(true))
	ta.Assert(string(raw), "grpc.port=6402\nweb.port=7681")
}

func TestRemoveDiscoveryFileIgnoresNotExist(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	require.NoError(t, netsimio.RemoveDiscoveryFile(1))
}

func TestRemoveDiscoveryFileDeletesExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	require.NoError(t, netsimio.WriteDiscoveryFile(1, netsimio.DiscoveryInfo{GrpcPort: 1}))

	require.NoError(t, netsimio.RemoveDiscoveryFile(1))
	_, err := os.Stat(netsimio.DiscoveryFilePath(1))
	require.True(t, os.IsNotExist(err))
}

func TestPcapDirCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	path, err := netsimio.PcapDir()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSessionStatsPathCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	path, err := netsimio.SessionStatsPath()
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "session_stats.json"))

	_, err = os.Stat(path[:strings.LastIndex(path, "/")])
	require.NoError(t, err)
}
