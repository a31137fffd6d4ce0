package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Worker pulls one descriptor at a time from the job queue and invokes the
// job runner under the job's inherited advisory lock. Completion is always
// signaled to the result channel, success or failure; the lock itself is
// released by the locker, never here.
type Worker struct {
	id          string
	maxPriority *int16
	queue       *JobQueue
	results     chan<- Result
	runner      JobRunner
	onStart     func(*Worker)
}

// NewWorker creates a worker. A nil maxPriority accepts any priority.
func NewWorker(
	maxPriority *int16,
	queue *JobQueue,
	results chan<- Result,
	runner JobRunner,
	onStart func(*Worker),
) *Worker {
	return &Worker{
		id:          uuid.NewString(),
		maxPriority: maxPriority,
		queue:       queue,
		results:     results,
		runner:      runner,
		onStart:     onStart,
	}
}

// ID returns the worker's unique id
func (w *Worker) ID() string {
	return w.id
}

// MaxPriority returns the worker's priority ceiling; nil means unbounded.
func (w *Worker) MaxPriority() *int16 {
	return w.maxPriority
}

// Run processes descriptors until the job queue is stopped.
func (w *Worker) Run(ctx context.Context) {
	if w.onStart != nil {
		w.onStart(w)
	}

	for {
		d, ok := w.queue.Pop(w.maxPriority)
		if !ok {
			slog.Debug("worker stopping", "worker_id", w.id)
			return
		}

		if err := w.runner(ctx, d); err != nil {
			slog.Error("job errored", "worker_id", w.id, "job_id", d.JobID, "error", err)
		}

		w.results <- Result{JobID: d.JobID}
	}
}
