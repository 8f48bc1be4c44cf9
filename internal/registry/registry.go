package registry

import (
	"sort"
	"sync"

	"gpu-occupancy-agent/internal/workload"
)

// Registry maps a device id to its currently-launched workload, at most
// one per device. The supervisor is the single writer; the mutex keeps
// the one-live-handle-per-device invariant safe should probing ever go
// concurrent.
type Registry struct {
	mu    sync.Mutex
	procs map[int]workload.Process
}

func New() *Registry {
	return &Registry{procs: map[int]workload.Process{}}
}

func (r *Registry) Get(deviceID int) workload.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[deviceID]
}

// Put stores the workload for a device, replacing any stale entry.
func (r *Registry) Put(deviceID int, p workload.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[deviceID] = p
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

type Entry struct {
	DeviceID int
	Proc     workload.Process
}

// Entries returns all registered workloads in ascending device order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.procs))
	for id, p := range r.procs {
		out = append(out, Entry{DeviceID: id, Proc: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
