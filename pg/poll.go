package pg

import (
	"context"

	"github.com/christianblais/que/core"
	querrors "github.com/christianblais/que/errors"
)

// pollJobsSQL walks the (priority, run_at, job_id) index in order, calling
// pg_try_advisory_lock on each visited row and keeping the successes, up to
// $1 of them. Ids in $2 are skipped without a lock attempt: the same session
// would re-acquire its own lock reentrantly, so jobs this process already
// holds must be excluded up front. Jobs locked by other backends fail the
// try-lock and are skipped by the final filter.
const pollJobsSQL = `
WITH RECURSIVE job_locks AS (
    SELECT (j).*, pg_try_advisory_lock((j).job_id) AS locked
    FROM (
        SELECT j
        FROM que_jobs AS j
        WHERE job_id <> ALL($2::bigint[])
        ORDER BY priority, run_at, job_id
        LIMIT 1
    ) AS t1
    UNION ALL (
        SELECT (j).*, pg_try_advisory_lock((j).job_id) AS locked
        FROM (
            SELECT (
                SELECT j
                FROM que_jobs AS j
                WHERE job_id <> ALL($2::bigint[])
                  AND (priority, run_at, job_id) >
                      (job_locks.priority, job_locks.run_at, job_locks.job_id)
                ORDER BY priority, run_at, job_id
                LIMIT 1
            ) AS j
            FROM job_locks
            WHERE job_locks.job_id IS NOT NULL
            LIMIT 1
        ) AS t1
    )
)
SELECT priority, run_at, job_id
FROM job_locks
WHERE locked
LIMIT $1
`

// PollJobs selects and advisory-locks up to limit candidate jobs in priority
// order, skipping the excluded ids.
func (c *Conn) PollJobs(ctx context.Context, limit int, exclude []int64) ([]core.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exclude == nil {
		exclude = []int64{}
	}

	rows, err := c.conn.Query(ctx, pollJobsSQL, limit, exclude)
	if err != nil {
		return nil, querrors.NewConnError("poll jobs", err)
	}
	defer rows.Close()

	var jobs []core.Descriptor
	for rows.Next() {
		var d core.Descriptor
		if err := rows.Scan(&d.Priority, &d.RunAt, &d.JobID); err != nil {
			return nil, querrors.NewConnError("poll jobs scan", err)
		}
		jobs = append(jobs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, querrors.NewConnError("poll jobs", err)
	}
	return jobs, nil
}
