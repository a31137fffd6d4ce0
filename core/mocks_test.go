package core

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	querrors "github.com/christianblais/que/errors"
)

// Mock implementations for testing

// PollCall records the arguments of one PollJobs invocation
type PollCall struct {
	Limit   int
	Exclude []int64
}

// MockConn implements the Conn interface for testing. It models the
// single-session lock semantics of the real adapter: locks are reentrant
// counters, and PollJobs locks whatever it returns.
type MockConn struct {
	mu            sync.Mutex
	backendPID    int
	locks         map[int64]int
	heldElsewhere map[int64]bool
	supply        []Descriptor
	notifications chan []byte
	listening     map[string]bool
	registered    []LockerInfo
	deregistered  int
	closed        bool
	ops           []string
	errs          map[string]error
	pollCalls     []PollCall
	ignoreExclude bool
}

func NewMockConn() *MockConn {
	return &MockConn{
		backendPID:    4242,
		locks:         make(map[int64]int),
		heldElsewhere: make(map[int64]bool),
		notifications: make(chan []byte, 64),
		listening:     make(map[string]bool),
		errs:          make(map[string]error),
	}
}

func (m *MockConn) record(op string) error {
	m.ops = append(m.ops, op)
	return m.errs[op]
}

func (m *MockConn) BackendPID() int {
	return m.backendPID
}

func (m *MockConn) Listen(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("Listen"); err != nil {
		return err
	}
	m.listening[channel] = true
	return nil
}

func (m *MockConn) Unlisten(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("Unlisten"); err != nil {
		return err
	}
	delete(m.listening, channel)
	return nil
}

func (m *MockConn) WaitForNotification(ctx context.Context, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	err := m.errs["WaitForNotification"]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, querrors.ErrNoNotification
	case payload := <-m.notifications:
		return payload, nil
	}
}

func (m *MockConn) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("TryAdvisoryLock"); err != nil {
		return false, err
	}
	if m.heldElsewhere[id] {
		return false, nil
	}
	m.locks[id]++
	return true, nil
}

func (m *MockConn) AdvisoryUnlock(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("AdvisoryUnlock"); err != nil {
		return err
	}
	if m.locks[id] > 0 {
		m.locks[id]--
		if m.locks[id] == 0 {
			delete(m.locks, id)
		}
	}
	return nil
}

func (m *MockConn) PollJobs(ctx context.Context, limit int, exclude []int64) ([]Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pollCalls = append(m.pollCalls, PollCall{Limit: limit, Exclude: append([]int64(nil), exclude...)})
	if err := m.record("PollJobs"); err != nil {
		return nil, err
	}

	excluded := make(map[int64]bool, len(exclude))
	if !m.ignoreExclude {
		for _, id := range exclude {
			excluded[id] = true
		}
	}

	var jobs []Descriptor
	for _, d := range m.supply {
		if len(jobs) == limit {
			break
		}
		if excluded[d.JobID] || m.heldElsewhere[d.JobID] {
			continue
		}
		m.locks[d.JobID]++
		jobs = append(jobs, d)
	}
	return jobs, nil
}

func (m *MockConn) RegisterLocker(ctx context.Context, info LockerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("RegisterLocker"); err != nil {
		return err
	}
	m.registered = append(m.registered, info)
	return nil
}

func (m *MockConn) DeregisterLocker(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("DeregisterLocker"); err != nil {
		return err
	}
	m.deregistered++
	return nil
}

func (m *MockConn) CleanStaleLockers(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("CleanStaleLockers")
}

func (m *MockConn) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("Close"); err != nil {
		return err
	}
	m.closed = true
	return nil
}

// Test helpers

// AddJobs places descriptors in the mock's pollable supply, kept in
// (priority, run_at, job_id) order.
func (m *MockConn) AddJobs(descriptors ...Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.supply = append(m.supply, descriptors...)
	sort.Slice(m.supply, func(i, j int) bool { return m.supply[i].Before(m.supply[j]) })
}

// DestroyJob removes a job from the supply, as a runner deleting the row
// would.
func (m *MockConn) DestroyJob(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.supply {
		if d.JobID == id {
			m.supply = append(m.supply[:i], m.supply[i+1:]...)
			return
		}
	}
}

// Notify delivers a notification for d to the listening locker.
func (m *MockConn) Notify(d Descriptor) {
	payload, _ := json.Marshal(d)
	m.notifications <- payload
}

// NotifyPayload delivers a raw notification payload.
func (m *MockConn) NotifyPayload(payload []byte) {
	m.notifications <- payload
}

// SetHeldElsewhere makes lock attempts on id fail, as if another backend
// held it.
func (m *MockConn) SetHeldElsewhere(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heldElsewhere[id] = true
}

// SetError injects an error for the named operation.
func (m *MockConn) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

// SetIgnoreExclude makes PollJobs disregard its exclude list, simulating a
// registry insert racing in between snapshot and return.
func (m *MockConn) SetIgnoreExclude(ignore bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreExclude = ignore
}

func (m *MockConn) LockCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[id]
}

// TotalLocks returns the number of advisory locks currently held on the
// session, counting reentrant acquisitions.
func (m *MockConn) TotalLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, count := range m.locks {
		total += count
	}
	return total
}

func (m *MockConn) SupplyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supply)
}

func (m *MockConn) Registered() []LockerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LockerInfo(nil), m.registered...)
}

func (m *MockConn) DeregisterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deregistered
}

func (m *MockConn) IsListening(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening[channel]
}

func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockConn) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *MockConn) PollCalls() []PollCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PollCall(nil), m.pollCalls...)
}
