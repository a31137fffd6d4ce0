package que

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/christianblais/que/core"
	querrors "github.com/christianblais/que/errors"
	"github.com/christianblais/que/pg"
	"github.com/christianblais/que/registry"
)

var globalRegistry = registry.New()

// Register adds a worker function for a job class.
func Register(class string, worker registry.WorkerFunc) error {
	return globalRegistry.Register(class, worker)
}

// Enqueue inserts a job and notifies a listening locker.
func Enqueue(ctx context.Context, pool *pgxpool.Pool, class string, args any, options ...pg.EnqueueOption) (core.Descriptor, error) {
	return pg.NewClient(pool).Enqueue(ctx, class, args, options...)
}

// Runner builds the job-invocation callback a locker hands to its workers:
// re-read the row under the held lock, dispatch by class, destroy the row on
// success, record the error and retry delay on failure. Failures stay inside
// the returned callback's own pathway; the locker only ever sees completion.
func Runner(client *pg.Client, reg *registry.Registry) core.JobRunner {
	return func(ctx context.Context, d core.Descriptor) error {
		job, err := client.FetchJob(ctx, d.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			// another process worked and destroyed the row before our lock won
			return nil
		}
		if job.RunAt.After(time.Now()) {
			// not due yet; leave the row for a later poll
			return nil
		}

		worker, ok := reg.Get(job.Class)
		if !ok {
			jobErr := querrors.NewJobError(job.Class, job.ID, querrors.ErrUnknownJobClass)
			recordError(ctx, client, job.ID, jobErr)
			return jobErr
		}

		if err := invoke(ctx, worker, job); err != nil {
			jobErr := querrors.NewJobError(job.Class, job.ID, err)
			recordError(ctx, client, job.ID, jobErr)
			return jobErr
		}

		return client.DestroyJob(ctx, job.ID)
	}
}

// invoke runs the worker function with panic recovery.
func invoke(ctx context.Context, worker registry.WorkerFunc, job *pg.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return worker(ctx, job)
}

func recordError(ctx context.Context, client *pg.Client, id int64, jobErr error) {
	if err := client.RecordError(ctx, id, jobErr); err != nil {
		slog.Error("record error failed", "job_id", id, "error", err)
	}
}

// Work starts a locker on a connection from pool and blocks until a shutdown
// signal is received or ctx is cancelled, then drains and stops.
func Work(ctx context.Context, pool *pgxpool.Pool, options ...core.LockerOption) error {
	conn, err := pg.Acquire(ctx, pool)
	if err != nil {
		return err
	}

	locker := core.NewLocker(conn, Runner(pg.NewClient(pool), globalRegistry), options...)
	if err := locker.Start(ctx); err != nil {
		_ = conn.Close(context.WithoutCancel(ctx))
		return err
	}

	quit := signals()
	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case <-quit:
		slog.Info("received signal, shutting down")
	case <-locker.Done():
	}

	locker.StopWait()
	return nil
}
