package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	querrors "github.com/christianblais/que/errors"
)

// Job is a full row from que_jobs, read while its advisory lock is held.
type Job struct {
	ID         int64
	Priority   int16
	RunAt      time.Time
	Class      string
	Args       json.RawMessage
	ErrorCount int32
	LastError  *string
}

// FetchJob reads the row for a locked descriptor. Returns nil when the row
// no longer exists: another process worked and destroyed it before our lock
// attempt won.
func (c *Client) FetchJob(ctx context.Context, id int64) (*Job, error) {
	var j Job
	err := c.pool.QueryRow(ctx, `
		SELECT job_id, priority, run_at, job_class, args, error_count, last_error
		FROM que_jobs
		WHERE job_id = $1
	`, id).Scan(&j.ID, &j.Priority, &j.RunAt, &j.Class, &j.Args, &j.ErrorCount, &j.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, querrors.NewConnError("fetch job", err)
	}
	return &j, nil
}

// DestroyJob removes a finished job's row.
func (c *Client) DestroyJob(ctx context.Context, id int64) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM que_jobs WHERE job_id = $1`, id); err != nil {
		return querrors.NewConnError("destroy job", err)
	}
	return nil
}

// RecordError bumps the job's error count and reschedules it with a delay of
// count^4 + 3 seconds, where count is the new error count.
func (c *Client) RecordError(ctx context.Context, id int64, jobErr error) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE que_jobs
		SET error_count = error_count + 1,
		    last_error  = $2,
		    run_at      = now() + (power(error_count + 1, 4) + 3) * interval '1 second'
		WHERE job_id = $1
	`, id, jobErr.Error())
	if err != nil {
		return querrors.NewConnError("record error", err)
	}
	return nil
}
