package smi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpu-occupancy-agent/internal/probe"
)

const computeAppsOutput = `12345, GPU-aaaaaaaa-1111-2222-3333-444444444444
67890, GPU-bbbbbbbb-1111-2222-3333-444444444444
67891, GPU-bbbbbbbb-1111-2222-3333-444444444444
`

func TestParseComputeApps(t *testing.T) {
	uuids := parseComputeApps([]byte(computeAppsOutput))

	assert.Len(t, uuids, 2)
	assert.Contains(t, uuids, "GPU-aaaaaaaa-1111-2222-3333-444444444444")
	assert.Contains(t, uuids, "GPU-bbbbbbbb-1111-2222-3333-444444444444")
}

func TestParseComputeAppsEmpty(t *testing.T) {
	assert.Empty(t, parseComputeApps(nil))
	assert.Empty(t, parseComputeApps([]byte("\n  \n")))
}

const deviceListOutput = `0, GPU-aaaaaaaa-1111-2222-3333-444444444444
1, GPU-bbbbbbbb-1111-2222-3333-444444444444
`

func TestParseDeviceList(t *testing.T) {
	devices := parseDeviceList([]byte(deviceListOutput))

	require.Len(t, devices, 2)
	assert.Equal(t, probe.Device{Index: 0, UUID: "GPU-aaaaaaaa-1111-2222-3333-444444444444"}, devices[0])
	assert.Equal(t, probe.Device{Index: 1, UUID: "GPU-bbbbbbbb-1111-2222-3333-444444444444"}, devices[1])
}

func TestParseDeviceListSkipsMalformedLines(t *testing.T) {
	devices := parseDeviceList([]byte("not-a-number, GPU-x\n0\n2, GPU-ok\n"))

	require.Len(t, devices, 1)
	assert.Equal(t, 2, devices[0].Index)
}

func TestReadCSVLinesTrimsAndSkipsBlank(t *testing.T) {
	lines := readCSVLines([]byte("  a , b \n\n c ,d\n"))

	require.Len(t, lines, 2)
	assert.Equal(t, []string{"a", "b"}, lines[0])
	assert.Equal(t, []string{"c", "d"}, lines[1])
}

// fakeSMI writes a script standing in for nvidia-smi so the exec paths
// get covered without a GPU.
func fakeSMI(t *testing.T, script string) *Prober {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nvidia-smi")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return New(path)
}

func TestProbeNoRunningProcesses(t *testing.T) {
	p := fakeSMI(t, `
case "$*" in
*query-compute-apps*) echo "No running processes found" >&2; exit 6 ;;
*query-gpu=uuid*) echo "GPU-aaaa" ;;
esac
`)

	snap, err := p.Probe(context.Background(), []int{0})
	require.NoError(t, err)

	assert.NoError(t, snap.ListErr)
	assert.False(t, snap.InUse[0])
	assert.Empty(t, snap.Failed)
}

func TestProbeJoinsByUUID(t *testing.T) {
	p := fakeSMI(t, `
case "$*" in
*query-compute-apps*) echo "111, GPU-aaaa" ;;
*--id=0*) echo "GPU-aaaa" ;;
*--id=1*) echo "GPU-bbbb" ;;
esac
`)

	snap, err := p.Probe(context.Background(), []int{0, 1})
	require.NoError(t, err)

	assert.True(t, snap.InUse[0])
	assert.False(t, snap.InUse[1])
}

func TestProbeIdentityFailureDefaultsFree(t *testing.T) {
	p := fakeSMI(t, `
case "$*" in
*query-compute-apps*) echo "111, GPU-aaaa" ;;
*--id=0*) echo "GPU-aaaa" ;;
*--id=1*) echo "device unplugged" >&2; exit 4 ;;
esac
`)

	snap, err := p.Probe(context.Background(), []int{0, 1})
	require.NoError(t, err)

	assert.True(t, snap.InUse[0])
	assert.False(t, snap.InUse[1])
	assert.Error(t, snap.Failed[1])
}

func TestProbeListingFailureFallsBackToAllFree(t *testing.T) {
	p := fakeSMI(t, `
case "$*" in
*query-compute-apps*) echo "driver wedged" >&2; exit 2 ;;
*query-gpu=uuid*) echo "GPU-aaaa" ;;
esac
`)

	snap, err := p.Probe(context.Background(), []int{0})
	require.NoError(t, err)

	assert.Error(t, snap.ListErr)
	assert.False(t, snap.InUse[0])
}

func TestDevicesEnumeration(t *testing.T) {
	p := fakeSMI(t, `echo "0, GPU-aaaa"; echo "1, GPU-bbbb"`)

	devices, err := p.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "GPU-bbbb", devices[1].UUID)
}
