package probe

// Device is one enumerated accelerator. UUID is the stable hardware
// identity used to join against compute-process listings; indices as
// seen by different tools are not comparable across driver/container
// setups, the UUID is.
type Device struct {
	Index int
	UUID  string
}

// Snapshot is the result of one usage probe. It has no memory of past
// cycles; the supervisor recomputes it fresh every cycle.
type Snapshot struct {
	// InUse has an entry for every probed device id. A device whose
	// identity could not be resolved defaults to false (not in use).
	InUse map[int]bool

	// Failed records per-device identity lookup failures. These are
	// logged, never fatal: a transient tool failure may cause a
	// spurious launch, which is accepted.
	Failed map[int]error

	// ListErr is set when the compute-process listing itself failed
	// and the snapshot was derived from an empty listing.
	ListErr error
}

func NewSnapshot() Snapshot {
	return Snapshot{InUse: map[int]bool{}, Failed: map[int]error{}}
}
