package core

import (
	"fmt"
	"time"

	querrors "github.com/christianblais/que/errors"
)

// Defaults for locker configuration.
const (
	DefaultWaitPeriod       = 50 * time.Millisecond
	DefaultMinimumQueueSize = 2
	DefaultMaximumQueueSize = 8
	DefaultWorkerCount      = 6
)

// DefaultWorkerPriorities are the ceilings assigned to the leading workers
// when none are configured; the remaining workers accept any priority.
var DefaultWorkerPriorities = []int16{10, 30, 50}

// Config holds locker configuration
type Config struct {
	// Listen enables the notification-driven path.
	Listen bool

	// PollInterval is the period of the poll timer; zero disables periodic
	// polling, leaving only the startup poll and demand polls.
	PollInterval time.Duration

	// WaitPeriod bounds each wait on the shared session, which is also the
	// locker's idle tick granularity.
	WaitPeriod time.Duration

	// MinimumQueueSize is the low-water mark that triggers a demand poll
	// after a completion.
	MinimumQueueSize int

	// MaximumQueueSize is the hard cap on the job queue.
	MaximumQueueSize int

	// WorkerCount is the number of workers; fixed for the locker's lifetime.
	WorkerCount int

	// WorkerPriorities are the priority ceilings assigned to workers in
	// order; nil entries and workers beyond the list accept any priority.
	WorkerPriorities []*int16

	// OnWorkerStart is invoked once per worker from that worker's own
	// goroutine.
	OnWorkerStart func(*Worker)
}

// LockerOption is a function that modifies locker configuration
type LockerOption func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		Listen:           true,
		WaitPeriod:       DefaultWaitPeriod,
		MinimumQueueSize: DefaultMinimumQueueSize,
		MaximumQueueSize: DefaultMaximumQueueSize,
		WorkerCount:      DefaultWorkerCount,
	}
}

func (c *Config) validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker count must be positive", querrors.ErrInvalidConfig)
	}
	if c.MaximumQueueSize <= 0 {
		return fmt.Errorf("%w: maximum queue size must be positive", querrors.ErrInvalidConfig)
	}
	if c.MinimumQueueSize < 0 || c.MinimumQueueSize > c.MaximumQueueSize {
		return fmt.Errorf("%w: minimum queue size must be between 0 and the maximum", querrors.ErrInvalidConfig)
	}
	if c.WaitPeriod <= 0 {
		return fmt.Errorf("%w: wait period must be positive", querrors.ErrInvalidConfig)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval cannot be negative", querrors.ErrInvalidConfig)
	}
	return nil
}

// resolvePriorities expands the configured ceilings to one entry per worker.
// An explicit list longer than WorkerCount grows the worker count to match;
// a shorter list is padded with nil, meaning unbounded. The built-in default
// ceilings are a template, not explicit config: they are truncated to the
// configured worker count rather than growing it.
func (c *Config) resolvePriorities() []*int16 {
	priorities := c.WorkerPriorities
	if priorities == nil {
		for _, p := range DefaultWorkerPriorities {
			if len(priorities) == c.WorkerCount {
				break
			}
			priorities = append(priorities, Priority(p))
		}
	}
	if len(priorities) > c.WorkerCount {
		c.WorkerCount = len(priorities)
	}
	resolved := make([]*int16, c.WorkerCount)
	copy(resolved, priorities)
	return resolved
}

// Priority is a convenience for building worker priority lists; nil entries
// mark workers that accept any priority.
func Priority(p int16) *int16 {
	return &p
}

// WithListen enables or disables the notification-driven path
func WithListen(listen bool) LockerOption {
	return func(c *Config) {
		c.Listen = listen
	}
}

// WithPollInterval sets the period of the poll timer
func WithPollInterval(d time.Duration) LockerOption {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithWaitPeriod sets the locker's idle tick granularity
func WithWaitPeriod(d time.Duration) LockerOption {
	return func(c *Config) {
		c.WaitPeriod = d
	}
}

// WithMinimumQueueSize sets the low-water mark that triggers demand polling
func WithMinimumQueueSize(n int) LockerOption {
	return func(c *Config) {
		c.MinimumQueueSize = n
	}
}

// WithMaximumQueueSize sets the hard cap on the job queue
func WithMaximumQueueSize(n int) LockerOption {
	return func(c *Config) {
		c.MaximumQueueSize = n
	}
}

// WithWorkerCount sets the number of workers
func WithWorkerCount(n int) LockerOption {
	return func(c *Config) {
		c.WorkerCount = n
	}
}

// WithWorkerPriorities sets the priority ceilings assigned to workers
func WithWorkerPriorities(priorities ...*int16) LockerOption {
	return func(c *Config) {
		c.WorkerPriorities = priorities
	}
}

// WithOnWorkerStart sets a callback invoked once per worker from that
// worker's goroutine
func WithOnWorkerStart(fn func(*Worker)) LockerOption {
	return func(c *Config) {
		c.OnWorkerStart = fn
	}
}
