package core

import (
	"sort"
	"sync"
)

// JobQueue is a bounded, priority-ordered, concurrent container of locked
// job descriptors. Pushes that would overflow the bound spill the least
// urgent descriptors back to the caller, which is how an urgent arrival
// preempts queued work.
type JobQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Descriptor
	max     int
	stopped bool
}

// NewJobQueue creates a queue holding at most max descriptors.
func NewJobQueue(max int) *JobQueue {
	q := &JobQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push merges descriptors into the queue in sorted position. Descriptors
// that no longer fit are evicted from the tail and returned; the caller is
// responsible for releasing their advisory locks. After Stop, every pushed
// descriptor is returned unqueued.
func (q *JobQueue) Push(descriptors ...Descriptor) []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return append([]Descriptor(nil), descriptors...)
	}

	for _, d := range descriptors {
		i := sort.Search(len(q.items), func(i int) bool { return d.Before(q.items[i]) })
		q.items = append(q.items, Descriptor{})
		copy(q.items[i+1:], q.items[i:])
		q.items[i] = d
	}

	var spilled []Descriptor
	if len(q.items) > q.max {
		spilled = append(spilled, q.items[q.max:]...)
		q.items = q.items[:q.max]
	}

	q.cond.Broadcast()
	return spilled
}

// Pop removes and returns the most urgent descriptor whose priority is at or
// below ceiling; a nil ceiling accepts any priority. Pop blocks until an
// eligible descriptor exists. ok is false once the queue has been stopped.
func (q *JobQueue) Pop(ceiling *int16) (Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped {
			return Descriptor{}, false
		}
		if len(q.items) > 0 && (ceiling == nil || q.items[0].Priority <= *ceiling) {
			d := q.items[0]
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			return d, true
		}
		q.cond.Wait()
	}
}

// PeekThreshold returns the priority of the least urgent queued descriptor.
// ok is false when the queue is empty. A full queue accepts a new candidate
// only if its priority beats this threshold.
func (q *JobQueue) PeekThreshold() (int16, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[len(q.items)-1].Priority, true
}

// Size returns the number of queued descriptors.
func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Space returns how many more descriptors fit.
func (q *JobQueue) Space() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.max - len(q.items)
}

// Capacity returns the queue's bound.
func (q *JobQueue) Capacity() int {
	return q.max
}

// Snapshot returns a copy of the queued descriptors in order.
func (q *JobQueue) Snapshot() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Descriptor(nil), q.items...)
}

// Stop transitions the queue to its shutdown state: blocked and future Pops
// return ok=false, and the remaining descriptors are drained and returned so
// the caller can release their locks.
func (q *JobQueue) Stop() []Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	drained := q.items
	q.items = nil
	q.cond.Broadcast()
	return drained
}

// Stopped reports whether Stop has been called.
func (q *JobQueue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}
