package core

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	querrors "github.com/christianblais/que/errors"
)

// State is the lifecycle phase of a locker.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Locker supervises the claim-and-execute pipeline: it registers the process
// in que_lockers, spawns the workers, notifier and poller, releases advisory
// locks as completions arrive, and orchestrates a shutdown that leaks no
// work. The dedicated connection's session owns every advisory lock the
// locker acquires; the locker owns the connection and closes it on shutdown.
type Locker struct {
	conn   Conn
	runner JobRunner
	config *Config

	queue    *JobQueue
	registry *LockRegistry
	results  chan Result
	workers  []*Worker
	poller   *Poller
	notifier *Notifier

	state    atomic.Int32
	started  atomic.Bool
	stopOnce sync.Once
	doneOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	workerWg sync.WaitGroup
	auxWg    sync.WaitGroup
	auxStop  context.CancelFunc
}

// NewLocker creates a locker on the given dedicated connection.
func NewLocker(conn Conn, runner JobRunner, options ...LockerOption) *Locker {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	return &Locker{
		conn:   conn,
		runner: runner,
		config: config,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the locker's current lifecycle phase.
func (l *Locker) State() State {
	return State(l.state.Load())
}

// Workers returns the locker's workers, for observability.
func (l *Locker) Workers() []*Worker {
	return l.workers
}

// JobQueue returns the internal queue, for observability.
func (l *Locker) JobQueue() *JobQueue {
	return l.queue
}

// Start brings the locker to the running state: listen on the session's
// notification channel, garbage-collect stale registration rows, insert this
// locker's row, then spawn workers, notifier and poller. Failures before the
// running state are returned to the caller and nothing is left registered.
func (l *Locker) Start(ctx context.Context) error {
	if l.started.Swap(true) {
		return querrors.ErrAlreadyStarted
	}
	if l.runner == nil {
		return l.failStart(querrors.NewStartupError("config", querrors.ErrNilWorkerFunc))
	}
	if err := l.config.validate(); err != nil {
		return l.failStart(querrors.NewStartupError("config", err))
	}

	priorities := l.config.resolvePriorities()
	channel := NotifyChannel(l.conn.BackendPID())

	if l.config.Listen {
		if err := l.conn.Listen(ctx, channel); err != nil {
			return l.failStart(querrors.NewStartupError("listen", err))
		}
	}
	if err := l.conn.CleanStaleLockers(ctx); err != nil {
		l.unlisten(ctx, channel)
		return l.failStart(querrors.NewStartupError("clean stale lockers", err))
	}

	hostname, _ := os.Hostname()
	info := LockerInfo{
		BackendPID:  l.conn.BackendPID(),
		ProcessID:   os.Getpid(),
		Hostname:    hostname,
		WorkerCount: l.config.WorkerCount,
		Listening:   l.config.Listen,
	}
	if err := l.conn.RegisterLocker(ctx, info); err != nil {
		l.unlisten(ctx, channel)
		return l.failStart(querrors.NewStartupError("register locker", err))
	}

	l.queue = NewJobQueue(l.config.MaximumQueueSize)
	l.registry = NewLockRegistry()
	l.results = make(chan Result, l.config.WorkerCount)

	auxCtx, auxStop := context.WithCancel(ctx)
	l.auxStop = auxStop

	for _, maxPriority := range priorities {
		w := NewWorker(maxPriority, l.queue, l.results, l.runner, l.config.OnWorkerStart)
		l.workers = append(l.workers, w)
		l.workerWg.Add(1)
		go func(w *Worker) {
			defer l.workerWg.Done()
			w.Run(ctx)
		}(w)
	}

	if l.config.Listen {
		l.notifier = NewNotifier(l.conn, l.queue, l.registry, l.config.WaitPeriod)
		l.auxWg.Add(1)
		go func() {
			defer l.auxWg.Done()
			l.notifier.Run(auxCtx)
		}()
	}

	l.poller = NewPoller(l.conn, l.queue, l.registry, l.config.PollInterval)
	l.auxWg.Add(1)
	go func() {
		defer l.auxWg.Done()
		l.poller.Run(auxCtx)
	}()

	l.state.Store(int32(StateRunning))

	go l.run(ctx, channel)
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()

	var pollInterval any
	if l.config.PollInterval > 0 {
		pollInterval = l.config.PollInterval
	}
	slog.Info("locker_start",
		"listen", l.config.Listen,
		"backend_pid", info.BackendPID,
		"poll_interval", pollInterval,
		"wait_period", l.config.WaitPeriod,
		"minimum_queue_size", l.config.MinimumQueueSize,
		"maximum_queue_size", l.config.MaximumQueueSize,
		"worker_priorities", priorities,
	)
	return nil
}

// Stop asks the locker to drain and shut down; it does not wait.
func (l *Locker) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		if !l.started.Load() {
			l.state.Store(int32(StateStopped))
			l.closeDone()
		}
	})
}

// StopWait stops the locker and blocks until shutdown completes.
func (l *Locker) StopWait() {
	l.Stop()
	<-l.done
}

// WaitForStop blocks until the locker has stopped, without initiating it.
func (l *Locker) WaitForStop() {
	<-l.done
}

// Done is closed once the locker has fully stopped.
func (l *Locker) Done() <-chan struct{} {
	return l.done
}

// run is the control loop: release the lock for each completion, and wake
// the poller when the queue drains to its low-water mark.
func (l *Locker) run(ctx context.Context, channel string) {
	for {
		select {
		case <-l.stop:
			l.shutdown(ctx, channel)
			return
		case r := <-l.results:
			l.release(ctx, r.JobID)
			if l.queue.Size() <= l.config.MinimumQueueSize {
				l.poller.Wake()
			}
		}
	}
}

// shutdown drains the pipeline in dependency order: unsubscribe, stop the
// intake goroutines, stop the queue and release what it held, join the
// workers, release everything still in flight, then deregister.
func (l *Locker) shutdown(ctx context.Context, channel string) {
	l.state.Store(int32(StateDraining))

	// releases and row deletes must still run when the caller's ctx is gone
	ctx = context.WithoutCancel(ctx)

	l.unlisten(ctx, channel)
	l.auxStop()
	l.auxWg.Wait()

	for _, d := range l.queue.Stop() {
		l.release(ctx, d.JobID)
	}

	// keep reading completions while the workers finish, so a worker waiting
	// on a full results channel can still send and exit
	joined := make(chan struct{})
	go func() {
		l.workerWg.Wait()
		close(joined)
	}()
join:
	for {
		select {
		case r := <-l.results:
			l.release(ctx, r.JobID)
		case <-joined:
			break join
		}
	}

drain:
	for {
		select {
		case r := <-l.results:
			l.release(ctx, r.JobID)
		default:
			break drain
		}
	}

	// anything left in the registry is a lock we still hold
	for _, id := range l.registry.Snapshot() {
		l.release(ctx, id)
	}

	if err := l.conn.DeregisterLocker(ctx); err != nil {
		slog.Error("deregister failed", "error", err)
	}

	slog.Info("locker_stop")

	if err := l.conn.Close(ctx); err != nil {
		slog.Error("connection close failed", "error", err)
	}

	l.state.Store(int32(StateStopped))
	l.closeDone()
}

// release returns job id's advisory lock and drops it from the registry.
// Unlock failures are tolerated: a lock this session cannot release either
// belongs to another backend or dies with the session.
func (l *Locker) release(ctx context.Context, id int64) {
	if err := l.conn.AdvisoryUnlock(ctx, id); err != nil {
		slog.Error("unlock failed", "job_id", id, "error", err)
	}
	l.registry.Remove(id)
}

func (l *Locker) unlisten(ctx context.Context, channel string) {
	if !l.config.Listen {
		return
	}
	if err := l.conn.Unlisten(ctx, channel); err != nil {
		slog.Error("unlisten failed", "error", err)
	}
}

func (l *Locker) closeDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

// failStart records that the locker never reached running, so waiters are
// not left blocked on a shutdown that will never happen.
func (l *Locker) failStart(err error) error {
	l.state.Store(int32(StateStopped))
	l.closeDone()
	return err
}

// enqueueLocked puts a freshly locked descriptor on the queue and releases
// whatever the queue spills to make room.
func enqueueLocked(ctx context.Context, conn Conn, queue *JobQueue, registry *LockRegistry, d Descriptor) {
	for _, spilled := range queue.Push(d) {
		registry.Remove(spilled.JobID)
		if err := conn.AdvisoryUnlock(context.WithoutCancel(ctx), spilled.JobID); err != nil {
			slog.Error("unlock failed", "job_id", spilled.JobID, "error", err)
		}
	}
}
