package smi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gpu-occupancy-agent/internal/probe"
)

// Prober determines device usage by shelling out to nvidia-smi: one
// compute-apps listing per cycle, plus one identity query per device.
// The join is done on GPU UUID strings, never on index equality.
type Prober struct {
	BinaryPath string
}

func New(binaryPath string) *Prober {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	return &Prober{BinaryPath: binaryPath}
}

func (p *Prober) Name() string { return "nvidia-smi" }

func (p *Prober) Close() error { return nil }

func (p *Prober) Devices(ctx context.Context) ([]probe.Device, error) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := p.run(qctx, "--query-gpu=index,uuid", "--format=csv,noheader")
	if err != nil {
		if errors.Is(err, errNoResults) {
			return nil, nil
		}
		return nil, err
	}
	return parseDeviceList(out), nil
}

func (p *Prober) Probe(ctx context.Context, ids []int) (probe.Snapshot, error) {
	snap := probe.NewSnapshot()

	busyUUIDs, err := p.queryComputeApps(ctx)
	if err != nil {
		// Listing unavailable: conservative fallback, every device
		// defaults to not in use so the loop stays alive.
		snap.ListErr = err
		busyUUIDs = nil
	}

	for _, id := range ids {
		uuid, err := p.deviceUUID(ctx, id)
		if err != nil {
			snap.InUse[id] = false
			snap.Failed[id] = err
			continue
		}
		_, inUse := busyUUIDs[uuid]
		snap.InUse[id] = inUse
	}
	return snap, nil
}

var errNoResults = errors.New("nvidia-smi no results")

func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		se := strings.TrimSpace(stderr.String())
		// Some versions print "No running processes found" on stderr and exit non-zero.
		if strings.Contains(strings.ToLower(se), "no running") {
			return nil, errNoResults
		}
		return nil, fmt.Errorf("nvidia-smi failed: %w: %s", err, se)
	}
	return out, nil
}

// queryComputeApps returns the set of GPU UUIDs that currently host at
// least one compute process.
func (p *Prober) queryComputeApps(ctx context.Context) (map[string]struct{}, error) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := p.run(qctx, "--query-compute-apps=pid,gpu_uuid", "--format=csv,noheader")
	if err != nil {
		if errors.Is(err, errNoResults) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	return parseComputeApps(out), nil
}

func (p *Prober) deviceUUID(ctx context.Context, id int) (string, error) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := p.run(qctx, "--query-gpu=uuid", "--format=csv,noheader", fmt.Sprintf("--id=%d", id))
	if err != nil {
		return "", err
	}
	uuid := strings.TrimSpace(string(out))
	if uuid == "" {
		return "", fmt.Errorf("nvidia-smi returned no uuid for gpu %d", id)
	}
	return uuid, nil
}

func parseComputeApps(out []byte) map[string]struct{} {
	uuids := map[string]struct{}{}
	for _, cols := range readCSVLines(out) {
		if len(cols) < 2 {
			continue
		}
		if uuid := cols[1]; uuid != "" {
			uuids[uuid] = struct{}{}
		}
	}
	return uuids
}

func parseDeviceList(out []byte) []probe.Device {
	lines := readCSVLines(out)
	devices := make([]probe.Device, 0, len(lines))
	for _, cols := range lines {
		if len(cols) < 2 {
			continue
		}
		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		devices = append(devices, probe.Device{Index: idx, UUID: cols[1]})
	}
	return devices
}

func readCSVLines(b []byte) [][]string {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	out := [][]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		out = append(out, cols)
	}
	return out
}
