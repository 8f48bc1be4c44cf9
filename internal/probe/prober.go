package probe

import "context"

type Prober interface {
	// Devices enumerates the accelerators visible on this host.
	// Called once at startup.
	Devices(ctx context.Context) ([]Device, error)

	// Probe reports, for each given device id, whether any compute
	// process currently holds it.
	Probe(ctx context.Context, ids []int) (Snapshot, error)

	Close() error
	Name() string
}
