package core

import (
	"context"
	"time"
)

// JobRunner executes the job identified by d. A worker invokes it while the
// job's advisory lock is held; errors are handled by the runner's own retry
// pathway and never reach the locker.
type JobRunner func(ctx context.Context, d Descriptor) error

// LockerInfo is the registration row a locker maintains in que_lockers for
// the lifetime of its running state.
type LockerInfo struct {
	BackendPID  int
	ProcessID   int
	Hostname    string
	WorkerCount int
	Listening   bool
}

// Conn defines what the locker needs from its dedicated database connection.
// Every advisory lock is acquired and released on this single session, so
// acquire and release always name the same backend. Implementations
// serialize concurrent use internally; notification waits are bounded so no
// caller is parked for longer than the wait period.
type Conn interface {
	// BackendPID returns the server-side pid of the session. It names the
	// locker's notification channel and keys its registration row.
	BackendPID() int

	// Listen subscribes the session to a notification channel.
	Listen(ctx context.Context, channel string) error

	// Unlisten removes the subscription.
	Unlisten(ctx context.Context, channel string) error

	// WaitForNotification blocks up to timeout for the next notification on
	// a listened channel and returns its payload. Returns
	// errors.ErrNoNotification when the timeout elapses first.
	WaitForNotification(ctx context.Context, timeout time.Duration) ([]byte, error)

	// TryAdvisoryLock attempts a non-blocking session-level advisory lock on
	// id. False means another session holds it.
	TryAdvisoryLock(ctx context.Context, id int64) (bool, error)

	// AdvisoryUnlock releases one advisory lock on id. Releasing a lock the
	// session does not hold is not an error.
	AdvisoryUnlock(ctx context.Context, id int64) error

	// PollJobs selects and advisory-locks up to limit candidate jobs in
	// (priority, run_at, job_id) order, skipping the excluded ids and any
	// job locked by another session.
	PollJobs(ctx context.Context, limit int, exclude []int64) ([]Descriptor, error)

	// RegisterLocker inserts the locker's registration row.
	RegisterLocker(ctx context.Context, info LockerInfo) error

	// DeregisterLocker deletes the registration row.
	DeregisterLocker(ctx context.Context) error

	// CleanStaleLockers garbage-collects registration rows left behind by
	// terminated sessions, including any row reusing this backend's pid.
	CleanStaleLockers(ctx context.Context) error

	// Close terminates the session, implicitly releasing any locks it still
	// holds.
	Close(ctx context.Context) error
}
