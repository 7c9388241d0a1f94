package index

import "sync/atomic"

// Holder publishes the served Snapshot. Readers call Load without locking;
// a refresh calls Swap once its new snapshot is complete, so readers see
// either the old or the new index, never a partial one.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the current snapshot, or nil if none was ever stored.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs s and returns the previous snapshot.
func (h *Holder) Swap(s *Snapshot) *Snapshot {
	return h.current.Swap(s)
}
