// Package schedule triggers syncs in-process on each configuration's
// sync_frequency_hours.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"

	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/logger"
	"github.com/jdholdren/lodgebook/internal/sync"
)

var Module = fx.Module("schedule",
	fx.Provide(
		NewScheduler,
	),
)

type (
	Runner interface {
		RunSync(ctx context.Context, id string) (sync.Result, error)
		SyncAll(ctx context.Context) ([]sync.Result, error)
	}

	Lister interface {
		ActiveSyncConfigurations(ctx context.Context) ([]lodgebook.SyncConfiguration, error)
	}

	Config struct {
		// How often the set of scheduled configurations is reloaded.
		Refresh time.Duration
		// Bound on one scheduled run, retries included.
		RunTimeout time.Duration
		// Attempts per run when the feed is unreachable.
		Attempts  uint64
		RetryBase time.Duration
	}

	Params struct {
		fx.In

		Config Config
		Repo   Lister
		Runner Runner
	}
)

type job struct {
	entry cron.EntryID
	hours int
}

type Scheduler struct {
	cron   *cron.Cron
	repo   Lister
	runner Runner
	cfg    Config

	// Now is the clock used to decide whether a new configuration is due.
	Now func() time.Time

	mu     gosync.Mutex
	jobs   map[string]job
	loaded bool
	// Runs started outside cron, for newly scheduled configurations.
	kicked gosync.WaitGroup
}

// NewScheduler builds the scheduler and ties it to the app lifecycle.
func NewScheduler(lc fx.Lifecycle, p Params) *Scheduler {
	s := New(p.Config, p.Repo, p.Runner)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})

	return s
}

func New(cfg Config, repo Lister, runner Runner) *Scheduler {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}

	l := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		Now:    time.Now,
		jobs:   map[string]job{},
	}
}

// Start schedules every active configuration, then catches up on the ones
// already overdue in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Refresh), func() {
		if err := s.Refresh(context.Background()); err != nil {
			slog.Error("error refreshing sync schedules", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("error scheduling refresh: %s", err)
	}

	s.cron.Start()
	slog.Info("sync scheduler started", "configurations", len(s.Scheduled()))

	go func() {
		if _, err := s.runner.SyncAll(context.Background()); err != nil {
			slog.Error("error syncing overdue configurations", "error", err)
		}
	}()

	return nil
}

// Stop waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.kicked.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh reconciles the cron entries with the active configurations.
//
// An entry is only replaced when its frequency changed, since re-adding an
// @every entry restarts its interval. After the first load, a configuration
// that appears already due is also synced right away instead of waiting a
// full interval.
func (s *Scheduler) Refresh(ctx context.Context) error {
	cfgs, err := s.repo.ActiveSyncConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("error listing active sync configurations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	active := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		active[cfg.ID] = struct{}{}
		hours := max(cfg.SyncFrequencyHours, 1)

		existing, ok := s.jobs[cfg.ID]
		if ok && existing.hours == hours {
			continue
		}
		if ok {
			s.cron.Remove(existing.entry)
		}

		id := cfg.ID
		entry, err := s.cron.AddFunc(fmt.Sprintf("@every %dh", hours), func() {
			s.runJob(id)
		})
		if err != nil {
			slog.Error("error scheduling sync configuration", "config_id", id, "error", err)
			delete(s.jobs, id)
			continue
		}
		s.jobs[id] = job{entry: entry, hours: hours}
		slog.Info("scheduled sync configuration", "config_id", id, "every_hours", hours)

		if !ok && s.loaded && cfg.Due(now) {
			s.kicked.Add(1)
			go func() {
				defer s.kicked.Done()
				s.runJob(id)
			}()
		}
	}
	s.loaded = true

	for id, j := range s.jobs {
		if _, ok := active[id]; ok {
			continue
		}
		s.cron.Remove(j.entry)
		delete(s.jobs, id)
		slog.Info("unscheduled sync configuration", "config_id", id)
	}

	return nil
}

// runJob syncs one configuration, retrying only when the feed couldn't be reached.
func (s *Scheduler) runJob(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()
	ctx = logger.Ctx(ctx, slog.String("config_id", id))

	backoff := retry.WithMaxRetries(s.cfg.Attempts-1, retry.NewExponential(s.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.runner.RunSync(ctx, id)
		if errors.Is(err, sync.ErrFeedUnreachable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "scheduled sync failed", "error", err)
	}
}

// Scheduled returns the ids of the scheduled configurations.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextRun returns when the configuration syncs next, or nil if it isn't scheduled.
func (s *Scheduler) NextRun(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	next := s.cron.Entry(j.entry).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
