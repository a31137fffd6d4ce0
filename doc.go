// Package que is a Postgres-backed background job queue. Jobs are rows in
// que_jobs; a locker claims them with session-level advisory locks,
// discovers them over LISTEN/NOTIFY and by priority-ordered polling, and
// feeds them to a bounded pool of workers. A crash releases every claim with
// the session, so no job is ever stranded.
//
// # Example
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/christianblais/que"
//		"github.com/christianblais/que/core"
//		"github.com/christianblais/que/pg"
//		"github.com/jackc/pgx/v5/pgxpool"
//	)
//
//	func main() {
//		ctx := context.Background()
//		pool, _ := pgxpool.New(ctx, "postgres://localhost/app")
//
//		que.Register("Charge", func(ctx context.Context, job *pg.Job) error {
//			// parse job.Args, do the work
//			return nil
//		})
//
//		// enqueue from anywhere
//		que.Enqueue(ctx, pool, "Charge", []any{42}, pg.WithPriority(10))
//
//		// work jobs until SIGTERM
//		que.Work(ctx, pool, core.WithWorkerCount(8))
//	}
//
// The core package exposes the locker directly for callers that manage their
// own lifecycle or supply their own dedicated connection.
package que
