package core

import "sync"

// LockRegistry is the in-memory set of job ids whose advisory locks this
// process currently holds. Its atomic test-and-set arbitrates races between
// the notifier and the poller seeing the same job.
type LockRegistry struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[int64]struct{})}
}

// TryInsert adds id to the registry. Returns true iff it was not already
// present.
func (r *LockRegistry) TryInsert(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[id]; ok {
		return false
	}
	r.held[id] = struct{}{}
	return true
}

// Remove deletes id from the registry.
func (r *LockRegistry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
}

// Snapshot returns the currently held ids.
func (r *LockRegistry) Snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.held))
	for id := range r.held {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of held ids.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
