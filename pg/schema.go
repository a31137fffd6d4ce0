package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	querrors "github.com/christianblais/que/errors"
)

// Schema is the DDL que consumes. Managed migration tooling is left to the
// application; this constant exists so tests and small deployments can
// bootstrap directly.
const Schema = `
CREATE TABLE IF NOT EXISTS que_jobs (
    job_id      bigserial   NOT NULL PRIMARY KEY,
    priority    smallint    NOT NULL DEFAULT 100,
    run_at      timestamptz NOT NULL DEFAULT now(),
    job_class   text        NOT NULL,
    args        json        NOT NULL DEFAULT '[]'::json,
    error_count integer     NOT NULL DEFAULT 0,
    last_error  text
);

CREATE INDEX IF NOT EXISTS que_poll_idx
    ON que_jobs (priority, run_at, job_id);

CREATE TABLE IF NOT EXISTS que_lockers (
    pid          integer  NOT NULL PRIMARY KEY,
    process_id   integer  NOT NULL,
    hostname     text     NOT NULL,
    worker_count smallint NOT NULL,
    listening    boolean  NOT NULL
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return querrors.NewConnError("migrate", err)
	}
	return nil
}
