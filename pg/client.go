package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/christianblais/que/core"
	querrors "github.com/christianblais/que/errors"
)

// DefaultPriority is assigned to jobs enqueued without an explicit priority.
const DefaultPriority int16 = 100

// Client enqueues jobs and performs the row-level work the job runner needs.
// It uses the shared pool; the locker's dedicated session is never involved.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient creates a client on pool.
func NewClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Pool exposes the underlying pool for job bodies that run their own
// queries.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

type enqueueConfig struct {
	priority int16
	runAt    time.Time
}

// EnqueueOption is a function that modifies enqueue configuration
type EnqueueOption func(*enqueueConfig)

// WithPriority sets the job's priority; lower is more urgent.
func WithPriority(p int16) EnqueueOption {
	return func(c *enqueueConfig) {
		c.priority = p
	}
}

// WithRunAt schedules the job to run at or after t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(c *enqueueConfig) {
		c.runAt = t
	}
}

// Enqueue inserts a job and notifies one listening locker, chosen at random
// from que_lockers, with the job's descriptor as the payload. Insert and
// notify share a transaction, so a locker is never woken for a job that was
// not committed.
func (c *Client) Enqueue(ctx context.Context, class string, args any, options ...EnqueueOption) (core.Descriptor, error) {
	config := enqueueConfig{priority: DefaultPriority}
	for _, opt := range options {
		opt(&config)
	}

	argsJSON, err := marshalArgs(args)
	if err != nil {
		return core.Descriptor{}, querrors.NewJobError(class, 0, err)
	}

	var runAt any
	if !config.runAt.IsZero() {
		runAt = config.runAt
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return core.Descriptor{}, querrors.NewConnError("enqueue begin", err)
	}
	defer tx.Rollback(ctx)

	var d core.Descriptor
	err = tx.QueryRow(ctx, `
		INSERT INTO que_jobs (priority, run_at, job_class, args)
		VALUES ($1, coalesce($2::timestamptz, now()), $3, $4)
		RETURNING priority, run_at, job_id
	`, config.priority, runAt, class, argsJSON).Scan(&d.Priority, &d.RunAt, &d.JobID)
	if err != nil {
		return core.Descriptor{}, querrors.NewConnError("enqueue insert", err)
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return core.Descriptor{}, querrors.NewJobError(class, d.JobID, err)
	}
	_, err = tx.Exec(ctx, `
		SELECT pg_notify('locker_' || pid, $1)
		FROM que_lockers
		WHERE listening
		ORDER BY random()
		LIMIT 1
	`, string(payload))
	if err != nil {
		return core.Descriptor{}, querrors.NewConnError("enqueue notify", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.Descriptor{}, querrors.NewConnError("enqueue commit", err)
	}
	return d, nil
}

// marshalArgs renders job arguments as the args json column. Nil becomes an
// empty argument list.
func marshalArgs(args any) ([]byte, error) {
	if args == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(args)
}
