package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/lodgebook/internal/api"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/logger"
	"github.com/jdholdren/lodgebook/internal/migrations"
	"github.com/jdholdren/lodgebook/internal/schedule"
	lbsqlite "github.com/jdholdren/lodgebook/internal/sqlite"
	"github.com/jdholdren/lodgebook/internal/sync"
	"github.com/jdholdren/lodgebook/internal/worker"
)

type config struct {
	Database string `env:"DATABASE, required"`
	// When set, syncs run as temporal workflows and the in-process scheduler is off.
	TemporalHostPort  string `env:"TEMPORAL_HOST_PORT"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE, default=default"`

	Port       int    `env:"PORT, default=4444"`
	CorsOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	FeedCacheSize   int           `env:"FEED_CACHE_SIZE, default=256"`
	UserAgent       string        `env:"USER_AGENT, default=lodgebook-sync/1.0"`
	ScheduleRefresh time.Duration `env:"SCHEDULE_REFRESH, default=5m"`
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

	// Run all migrations
	if err := migrations.Run(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	repo := lbsqlite.New(dbx)
	fetcher, err := sync.NewFetcher(sync.FetcherConfig{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		CacheSize: cfg.FeedCacheSize,
	})
	if err != nil {
		log.Fatalf("error creating fetcher: %s", err)
	}
	syncer := sync.NewSyncer(repo, fetcher)

	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.SlogLogger{Logger: slog.Default()}
		}),
		fx.Supply(
			api.ServerConfig{
				Port:       cfg.Port,
				CorsOrigin: cfg.CorsOrigin,
			},
			fx.Annotate(repo, fx.As(new(lodgebook.Repository))),
		),
		api.Module,
		fx.Invoke(func(*api.Server) {}), // Start the API server
	}

	if cfg.TemporalHostPort != "" {
		// Retry until temporal is ready
		var temporalCli client.Client
		if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
			c, err := client.Dial(client.Options{
				HostPort:  cfg.TemporalHostPort,
				Namespace: cfg.TemporalNamespace,
				Logger:    slog.Default(),
			})
			if err != nil {
				return retry.RetryableError(err)
			}
			temporalCli = c

			return nil
		}); err != nil {
			log.Fatalln("Unable to create Temporal client:", err)
		}
		defer temporalCli.Close()

		opts = append(opts, fx.Supply(
			fx.Annotate(worker.NewTrigger(temporalCli), fx.As(new(api.Trigger))),
		))
	} else {
		opts = append(opts,
			fx.Supply(
				schedule.Config{Refresh: cfg.ScheduleRefresh},
				fx.Annotate(syncer, fx.As(new(api.Trigger))),
				fx.Annotate(syncer, fx.As(new(schedule.Runner))),
				fx.Annotate(repo, fx.As(new(schedule.Lister))),
			),
			schedule.Module,
			fx.Invoke(func(*schedule.Scheduler) {}), // Start scheduling syncs
		)
	}

	fx.New(opts...).Run()
}
