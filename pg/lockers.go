package pg

import (
	"context"

	"github.com/christianblais/que/core"
	querrors "github.com/christianblais/que/errors"
)

// RegisterLocker inserts the locker's registration row, keyed by this
// session's backend pid.
func (c *Conn) RegisterLocker(ctx context.Context, info core.LockerInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.conn.Exec(ctx, `
		INSERT INTO que_lockers (pid, process_id, hostname, worker_count, listening)
		VALUES ($1, $2, $3, $4, $5)
	`, info.BackendPID, info.ProcessID, info.Hostname, info.WorkerCount, info.Listening)
	if err != nil {
		return querrors.NewConnError("register locker", err)
	}
	return nil
}

// DeregisterLocker deletes this locker's registration row.
func (c *Conn) DeregisterLocker(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Exec(ctx, `DELETE FROM que_lockers WHERE pid = $1`, c.backendPID); err != nil {
		return querrors.NewConnError("deregister locker", err)
	}
	return nil
}

// CleanStaleLockers deletes registration rows whose backend no longer exists,
// and any row reusing this backend's pid from a previous incarnation.
func (c *Conn) CleanStaleLockers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.conn.Exec(ctx, `
		DELETE FROM que_lockers
		WHERE pid = $1
		   OR pid NOT IN (SELECT pid FROM pg_stat_activity)
	`, c.backendPID)
	if err != nil {
		return querrors.NewConnError("clean stale lockers", err)
	}
	return nil
}
