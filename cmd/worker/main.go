package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/lodgebook/internal/logger"
	"github.com/jdholdren/lodgebook/internal/migrations"
	lbsqlite "github.com/jdholdren/lodgebook/internal/sqlite"
	"github.com/jdholdren/lodgebook/internal/sync"
	"github.com/jdholdren/lodgebook/internal/worker"
)

type config struct {
	Database          string `env:"DATABASE, required"`
	TemporalHostPort  string `env:"TEMPORAL_HOST_PORT, required"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE, default=default"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	FeedCacheSize int           `env:"FEED_CACHE_SIZE, default=256"`
	UserAgent     string        `env:"USER_AGENT, default=lodgebook-sync/1.0"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LoggerFormat))

	// Connect to the sqlite db
	dbx, err := lbsqlite.Open(cfg.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	if err := migrations.Run(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	fetcher, err := sync.NewFetcher(sync.FetcherConfig{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		CacheSize: cfg.FeedCacheSize,
	})
	if err != nil {
		log.Fatalf("error creating fetcher: %s", err)
	}
	syncer := sync.NewSyncer(lbsqlite.New(dbx), fetcher)

	// Retry until temporal is ready
	var c client.Client
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		cli, err := client.Dial(client.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			Logger:    slog.Default(),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		c = cli

		return nil
	}); err != nil {
		log.Fatalln("Unable to create Temporal client:", err)
	}
	defer c.Close()

	if err := worker.EnsureNamespace(ctx, c.WorkflowService(), cfg.TemporalNamespace); err != nil {
		log.Fatalf("error ensuring namespace: %s", err)
	}

	w, err := worker.NewWorker(ctx, syncer, c)
	if err != nil {
		log.Fatalf("error creating worker: %s", err)
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	stop := make(chan any)
	g.Add(func() error {
		slog.Info("worker started", "task_queue", worker.TaskQueue)
		return w.Run(stop)
	}, func(error) {
		close(stop)
	})

	var sigErr run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sigErr) && !errors.Is(err, context.Canceled) {
		slog.Error("error running worker", "error", err)
		os.Exit(1)
	}
}
