package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	querrors "github.com/christianblais/que/errors"
)

// NotifyChannel returns the notification channel name for a backend pid.
func NotifyChannel(backendPID int) string {
	return fmt.Sprintf("locker_%d", backendPID)
}

// Notifier waits on the locker's notification channel and converts incoming
// candidates into locked descriptors on the job queue.
type Notifier struct {
	conn       Conn
	queue      *JobQueue
	registry   *LockRegistry
	waitPeriod time.Duration
	retry      *backoff.Backoff
}

// NewNotifier creates a notifier.
func NewNotifier(conn Conn, queue *JobQueue, registry *LockRegistry, waitPeriod time.Duration) *Notifier {
	return &Notifier{
		conn:       conn,
		queue:      queue,
		registry:   registry,
		waitPeriod: waitPeriod,
		retry: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    5 * time.Second,
			Jitter: true,
		},
	}
}

// Run waits for notifications until ctx is cancelled. Waits are sliced into
// waitPeriod chunks so the poller and the locker's release path can
// interleave work on the shared session.
func (n *Notifier) Run(ctx context.Context) {
	for {
		payload, err := n.conn.WaitForNotification(ctx, n.waitPeriod)
		if err != nil {
			if errors.Is(err, querrors.ErrNoNotification) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("notification wait failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.retry.Duration()):
			}
			continue
		}
		n.retry.Reset()
		n.handle(ctx, payload)
	}
}

// handle processes one notification payload: filter, lock, enqueue.
func (n *Notifier) handle(ctx context.Context, payload []byte) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		slog.Error("bad notification payload", "payload", string(payload), "error", err)
		return
	}

	slog.Info("job_notified", slog.Group("job",
		"priority", d.Priority,
		"run_at", d.RunAt,
		"job_id", d.JobID,
	))

	if n.queue.Space() <= 0 {
		// a full queue only accepts candidates that beat its worst entry
		if threshold, ok := n.queue.PeekThreshold(); ok && d.Priority >= threshold {
			return
		}
	}

	if !n.registry.TryInsert(d.JobID) {
		return
	}

	locked, err := n.conn.TryAdvisoryLock(ctx, d.JobID)
	if err != nil {
		n.registry.Remove(d.JobID)
		slog.Error("advisory lock failed", "job_id", d.JobID, "error", err)
		return
	}
	if !locked {
		n.registry.Remove(d.JobID)
		return
	}

	enqueueLocked(ctx, n.conn, n.queue, n.registry, d)
}
