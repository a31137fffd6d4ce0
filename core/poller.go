package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
)

// Poller asks the database for batches of the highest-priority unlocked
// jobs, locking each up to the queue's free capacity. It polls once at
// startup, on every tick of the configured interval, and whenever the locker
// wakes it after a completion leaves the queue at or below its low-water
// mark.
type Poller struct {
	conn     Conn
	queue    *JobQueue
	registry *LockRegistry
	interval time.Duration
	wake     chan struct{}
	retry    *backoff.Backoff
}

// NewPoller creates a poller. A zero interval disables the periodic timer;
// startup and demand polls still occur.
func NewPoller(conn Conn, queue *JobQueue, registry *LockRegistry, interval time.Duration) *Poller {
	return &Poller{
		conn:     conn,
		queue:    queue,
		registry: registry,
		interval: interval,
		wake:     make(chan struct{}, 1),
		retry: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    5 * time.Second,
			Jitter: true,
		},
	}
}

// Wake schedules a demand poll, coalescing with any poll already pending.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.pollBatch(ctx)

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-tick:
		}
		p.pollBatch(ctx)
	}
}

// pollBatch repeats batch polls as long as the database fills the requested
// limit, so a backlog larger than the queue is drained without waiting for
// the next tick. A transient failure abandons the batch after a backoff
// delay; the poller keeps running.
func (p *Poller) pollBatch(ctx context.Context) {
	for ctx.Err() == nil {
		limit := p.queue.Space()
		if limit <= 0 {
			return
		}

		locked, err := p.pollOnce(ctx, limit)
		if err != nil {
			slog.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.retry.Duration()):
			}
			return
		}
		p.retry.Reset()

		if locked < limit {
			return
		}
	}
}

// pollOnce executes a single batch poll and routes each locked candidate
// through the registry and onto the queue.
func (p *Poller) pollOnce(ctx context.Context, limit int) (int, error) {
	jobs, err := p.conn.PollJobs(ctx, limit, p.registry.Snapshot())
	if err != nil {
		return 0, err
	}

	for _, d := range jobs {
		if !p.registry.TryInsert(d.JobID) {
			// lost the race with the notifier; undo the redundant lock
			if err := p.conn.AdvisoryUnlock(context.WithoutCancel(ctx), d.JobID); err != nil {
				slog.Error("unlock failed", "job_id", d.JobID, "error", err)
			}
			continue
		}
		enqueueLocked(ctx, p.conn, p.queue, p.registry, d)
	}

	slog.Info("locker_polled", "limit", limit, "locked", len(jobs))
	return len(jobs), nil
}
