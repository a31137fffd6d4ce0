// Package pg implements que's database layer on pgx: the locker's dedicated
// connection, the candidate-selection poll, locker registration, and the
// enqueue client.
package pg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/christianblais/que/core"
	querrors "github.com/christianblais/que/errors"
)

// Conn is a locker's dedicated connection. Every advisory lock the locker
// takes lives on this one session, so acquire and release always name the
// same backend. A mutex serializes the notifier, the poller and the locker's
// release path; notification waits are bounded, so the mutex never parks a
// caller for longer than the locker's wait period.
type Conn struct {
	mu         sync.Mutex
	conn       *pgx.Conn
	backendPID int
}

var _ core.Conn = (*Conn)(nil)

// NewConn wraps an established connection for exclusive use by a locker.
func NewConn(conn *pgx.Conn) *Conn {
	return &Conn{
		conn:       conn,
		backendPID: int(conn.PgConn().PID()),
	}
}

// Acquire hijacks a connection from pool for use as a locker's dedicated
// session. The connection no longer returns to the pool; Close terminates it.
func Acquire(ctx context.Context, pool *pgxpool.Pool) (*Conn, error) {
	poolConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, querrors.NewConnError("acquire", err)
	}
	return NewConn(poolConn.Hijack()), nil
}

// BackendPID returns the server-side pid of the session.
func (c *Conn) BackendPID() int {
	return c.backendPID
}

// Listen subscribes the session to channel.
func (c *Conn) Listen(ctx context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return querrors.NewConnError("listen", err)
	}
	return nil
}

// Unlisten removes the subscription to channel.
func (c *Conn) Unlisten(ctx context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return querrors.NewConnError("unlisten", err)
	}
	return nil
}

// WaitForNotification blocks up to timeout for the next notification and
// returns its payload, or errors.ErrNoNotification when the timeout elapses.
func (c *Conn) WaitForNotification(ctx context.Context, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := c.conn.WaitForNotification(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, querrors.ErrNoNotification
		}
		return nil, querrors.NewConnError("wait for notification", err)
	}
	return []byte(n.Payload), nil
}

// TryAdvisoryLock attempts a non-blocking session-level advisory lock on id.
func (c *Conn) TryAdvisoryLock(ctx context.Context, id int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var locked bool
	if err := c.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&locked); err != nil {
		return false, querrors.NewConnError("try advisory lock", err)
	}
	return locked, nil
}

// AdvisoryUnlock releases one advisory lock on id. A lock the session does
// not hold is not an error: releases are best effort by contract.
func (c *Conn) AdvisoryUnlock(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unlocked bool
	if err := c.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&unlocked); err != nil {
		return querrors.NewConnError("advisory unlock", err)
	}
	return nil
}

// Close terminates the session. Any advisory locks still held are released
// implicitly by the server.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Close(ctx); err != nil {
		return querrors.NewConnError("close", err)
	}
	return nil
}
