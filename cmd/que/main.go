package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/christianblais/que"
	"github.com/christianblais/que/core"
)

type settings struct {
	DatabaseURL      string        `env:"DATABASE_URL"`
	Listen           bool          `env:"QUE_LISTEN" envDefault:"true"`
	PollInterval     time.Duration `env:"QUE_POLL_INTERVAL"`
	WaitPeriod       time.Duration `env:"QUE_WAIT_PERIOD" envDefault:"50ms"`
	MinimumQueueSize int           `env:"QUE_MINIMUM_QUEUE_SIZE" envDefault:"2"`
	MaximumQueueSize int           `env:"QUE_MAXIMUM_QUEUE_SIZE" envDefault:"8"`
	WorkerCount      int           `env:"QUE_WORKER_COUNT" envDefault:"6"`
}

func main() {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		log.Fatal("Error:", err)
	}

	if cfg.DatabaseURL == "" {
		fmt.Println("que: a Postgres-backed background worker")
		fmt.Println("\nUsage: que")
		fmt.Println("\nEnvironment:")
		fmt.Println("  DATABASE_URL            Postgres connection string (required)")
		fmt.Println("  QUE_LISTEN              enable LISTEN/NOTIFY (default true)")
		fmt.Println("  QUE_POLL_INTERVAL       periodic poll interval (default off)")
		fmt.Println("  QUE_WAIT_PERIOD         idle tick granularity (default 50ms)")
		fmt.Println("  QUE_MINIMUM_QUEUE_SIZE  demand-poll low-water mark (default 2)")
		fmt.Println("  QUE_MAXIMUM_QUEUE_SIZE  job queue cap (default 8)")
		fmt.Println("  QUE_WORKER_COUNT        number of workers (default 6)")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Error:", err)
	}
	defer pool.Close()

	options := []core.LockerOption{
		core.WithListen(cfg.Listen),
		core.WithWaitPeriod(cfg.WaitPeriod),
		core.WithMinimumQueueSize(cfg.MinimumQueueSize),
		core.WithMaximumQueueSize(cfg.MaximumQueueSize),
		core.WithWorkerCount(cfg.WorkerCount),
	}
	if cfg.PollInterval > 0 {
		options = append(options, core.WithPollInterval(cfg.PollInterval))
	}

	if err := que.Work(ctx, pool, options...); err != nil {
		log.Fatal("Error:", err)
	}
}
