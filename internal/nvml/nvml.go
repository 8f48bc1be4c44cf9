package nvmlwrap

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"gpu-occupancy-agent/internal/probe"
)

// Prober implements usage probing via NVML (go-nvml cgo bindings).
// Unlike the nvidia-smi backend it joins processes to devices through
// per-device handles, so no UUID matching is needed.

type Prober struct {
	initialized bool
}

func New() *Prober {
	return &Prober{}
}

func (p *Prober) init() error {
	if p.initialized {
		return nil
	}
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	p.initialized = true
	return nil
}

func (p *Prober) Name() string { return "nvml" }

func (p *Prober) Close() error {
	if !p.initialized {
		return nil
	}
	_ = nvml.Shutdown()
	p.initialized = false
	return nil
}

func (p *Prober) Devices(ctx context.Context) ([]probe.Device, error) {
	_ = ctx
	if err := p.init(); err != nil {
		return nil, err
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device get count failed: %s", nvml.ErrorString(ret))
	}

	devices := make([]probe.Device, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml get handle index=%d failed: %s", i, nvml.ErrorString(ret))
		}
		uuid, _ := dev.GetUUID()
		devices = append(devices, probe.Device{Index: i, UUID: uuid})
	}
	return devices, nil
}

func (p *Prober) Probe(ctx context.Context, ids []int) (probe.Snapshot, error) {
	_ = ctx
	snap := probe.NewSnapshot()
	if err := p.init(); err != nil {
		return snap, err
	}

	for _, id := range ids {
		dev, ret := nvml.DeviceGetHandleByIndex(id)
		if ret != nvml.SUCCESS {
			snap.InUse[id] = false
			snap.Failed[id] = fmt.Errorf("nvml get handle index=%d failed: %s", id, nvml.ErrorString(ret))
			continue
		}
		procs, ret := dev.GetComputeRunningProcesses()
		if ret != nvml.SUCCESS {
			snap.InUse[id] = false
			snap.Failed[id] = fmt.Errorf("nvml compute procs index=%d failed: %s", id, nvml.ErrorString(ret))
			continue
		}
		snap.InUse[id] = len(procs) > 0
	}
	return snap, nil
}
