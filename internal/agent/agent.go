package agent

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"gpu-occupancy-agent/internal/config"
	"gpu-occupancy-agent/internal/logging"
	"gpu-occupancy-agent/internal/probe"
	"gpu-occupancy-agent/internal/registry"
	"gpu-occupancy-agent/internal/workload"
)

type Options struct {
	Config   config.Config
	NodeName string
	Logger   *logging.Logger
	Prober   probe.Prober
	Launcher workload.Launcher

	// Devices is the enumerator output, fixed at startup.
	Devices []probe.Device

	// Managed is the set of device ids to supervise; nil means all
	// enumerated devices.
	Managed []int
}

// Supervisor owns the probe-decide-act loop, the process registry and
// the one-shot shutdown path. It is the registry's only writer.
type Supervisor struct {
	cfg      config.Config
	node     string
	log      *logging.Logger
	prober   probe.Prober
	launcher workload.Launcher

	enumerated map[int]struct{}
	allIDs     []int
	managed    []int

	reg      *registry.Registry
	shutDown int32
}

func New(opts Options) *Supervisor {
	enumerated := make(map[int]struct{}, len(opts.Devices))
	allIDs := make([]int, 0, len(opts.Devices))
	for _, d := range opts.Devices {
		enumerated[d.Index] = struct{}{}
		allIDs = append(allIDs, d.Index)
	}
	sort.Ints(allIDs)

	managed := opts.Managed
	if managed == nil {
		managed = allIDs
	} else {
		managed = append([]int(nil), managed...)
		sort.Ints(managed)
	}

	return &Supervisor{
		cfg:        opts.Config,
		node:       opts.NodeName,
		log:        opts.Logger,
		prober:     opts.Prober,
		launcher:   opts.Launcher,
		enumerated: enumerated,
		allIDs:     allIDs,
		managed:    managed,
		reg:        registry.New(),
	}
}

// Managed returns the supervised device ids in ascending order.
func (s *Supervisor) Managed() []int { return s.managed }

// Run drives probe cycles until ctx is canceled, then tears all
// workloads down. The first cycle runs immediately.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	defer func() { _ = s.prober.Close() }()
	defer s.Shutdown()

	s.log.Info(map[string]any{"msg": "usage prober selected", "node": s.node, "prober": s.prober.Name()})

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick is one probe cycle: snapshot usage, then walk the managed
// devices in ascending order and decide per device.
func (s *Supervisor) tick(ctx context.Context) {
	snap, err := s.prober.Probe(ctx, s.allIDs)
	if err != nil {
		s.log.Warn(map[string]any{"msg": "probe failed, skipping cycle", "node": s.node, "error": err.Error()})
		return
	}
	if snap.ListErr != nil {
		s.log.Warn(map[string]any{"msg": "compute process listing unavailable, assuming devices free", "node": s.node, "error": snap.ListErr.Error()})
	}
	for id, ferr := range snap.Failed {
		s.log.Warn(map[string]any{"msg": "device identity lookup failed, assuming free", "node": s.node, "gpu": id, "error": ferr.Error()})
	}

	for _, id := range s.managed {
		s.decide(id, snap)
	}
}

// decide applies the per-device state machine. Precedence matters:
// external usage is checked before the registry, so a device running
// our own (externally visible) workload reports "in use".
func (s *Supervisor) decide(id int, snap probe.Snapshot) {
	if _, ok := s.enumerated[id]; !ok {
		s.log.Warn(map[string]any{"msg": "gpu does not exist, skipping", "node": s.node, "gpu": id})
		return
	}

	if snap.InUse[id] {
		s.log.Info(map[string]any{"msg": "gpu is currently in use", "node": s.node, "gpu": id})
		return
	}

	if p := s.reg.Get(id); p != nil && p.Alive() {
		s.log.Info(map[string]any{"msg": "workload already running on gpu", "node": s.node, "gpu": id, "pid": p.PID()})
		return
	}

	s.log.Info(map[string]any{"msg": "launching workload on free gpu", "node": s.node, "gpu": id})
	p, err := s.launcher.Launch(id)
	if err != nil {
		// Retry next cycle; a single device's failure must not take
		// the supervisor down.
		s.log.Error(map[string]any{"msg": "workload launch failed", "node": s.node, "gpu": id, "error": err.Error()})
		return
	}
	s.reg.Put(id, p)
	s.log.Info(map[string]any{"msg": "workload started", "node": s.node, "gpu": id, "pid": p.PID()})
}

// Shutdown terminates every live workload and waits for every
// registered one to be reaped. Guarded by a one-shot latch so signal
// delivery during teardown, or teardown after teardown, is a no-op.
func (s *Supervisor) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.shutDown, 0, 1) {
		return
	}

	s.log.Info(map[string]any{"msg": "shutting down workloads", "node": s.node, "count": s.reg.Len()})

	entries := s.reg.Entries()
	for _, e := range entries {
		if !e.Proc.Alive() {
			continue
		}
		s.log.Info(map[string]any{"msg": "terminating workload", "node": s.node, "gpu": e.DeviceID, "pid": e.Proc.PID()})
		if err := e.Proc.Terminate(); err != nil {
			s.log.Warn(map[string]any{"msg": "terminate failed", "node": s.node, "gpu": e.DeviceID, "error": err.Error()})
		}
	}
	for _, e := range entries {
		_ = e.Proc.Wait()
	}

	s.log.Info(map[string]any{"msg": "all workloads exited", "node": s.node})
}
