// Package sync pulls external iCal feeds into the external bookings store.
//
// A run fetches one configuration's feed, parses and date-interprets it, keeps
// the events inside the relevance window and replaces the configuration's
// stored bookings with them.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/lodgebook/internal/ical"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/logger"
)

type Status string

const (
	StatusSynced Status = "synced"
	// The configuration is inactive; nothing was fetched or written.
	StatusSkipped Status = "skipped"
)

// Result describes a finished run. Failed runs return an error instead.
type Result struct {
	ConfigurationID string `json:"configuration_id"`
	Status          Status `json:"status"`
	// Rows written.
	Synced int `json:"synced"`
	// Complete VEVENT blocks found in the feed.
	Parsed int `json:"parsed"`
	// Blocks discarded as malformed, unreadable or repeated.
	Dropped int `json:"dropped"`
	// Events outside the relevance window.
	Filtered int        `json:"filtered"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

func (r Result) Success() bool {
	return r.Status == StatusSynced || r.Status == StatusSkipped
}

// Syncer runs syncs. At most one run per configuration is in flight at a time.
type Syncer struct {
	repo  lodgebook.Repository
	feeds FeedFetcher
	locks keyedMutex

	Now func() time.Time
	// Upper bound on concurrent runs in SyncAll.
	Concurrency int
}

func NewSyncer(repo lodgebook.Repository, feeds FeedFetcher) *Syncer {
	return &Syncer{
		repo:        repo,
		feeds:       feeds,
		Now:         time.Now,
		Concurrency: 4,
	}
}

// RunSync syncs the configuration with the given id.
func (s *Syncer) RunSync(ctx context.Context, id string) (Result, error) {
	ctx = logger.Ctx(ctx, slog.String("config_id", id))

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("error waiting for sync lock: %w", err)
	}
	defer unlock()

	cfg, err := s.repo.SyncConfiguration(ctx, id)
	if errors.Is(err, lodgebook.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	if err != nil {
		return Result{}, fmt.Errorf("error loading sync configuration: %w", err)
	}

	if !cfg.IsActive {
		slog.InfoContext(ctx, "sync configuration inactive, skipping")
		return Result{ConfigurationID: id, Status: StatusSkipped}, nil
	}

	res, err := s.run(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "sync failed", "error", err)

		// Recorded even when the caller gave up so the failure stays visible.
		if merr := s.repo.MarkSyncFailed(context.WithoutCancel(ctx), id, err.Error()); merr != nil {
			slog.ErrorContext(ctx, "error recording sync failure", "error", merr)
		}
		return Result{}, err
	}

	return res, nil
}

func (s *Syncer) run(ctx context.Context, cfg lodgebook.SyncConfiguration) (Result, error) {
	now := s.Now().UTC()
	slog.InfoContext(ctx, "sync starting", "platform", cfg.PlatformName)

	feed, err := s.feeds.Fetch(ctx, cfg.ICalURL)
	if err != nil {
		return Result{}, err
	}
	slog.InfoContext(ctx, "feed fetched", "bytes", len(feed.Body), "from_cache", feed.FromCache)

	raws, stats := ical.Parse(feed.Body)
	events, unreadable := ical.InterpretAll(raws)
	relevant := ical.Relevant(events, now)
	bookings, dupes := Bookings(cfg, relevant)
	slog.InfoContext(ctx, "feed parsed",
		"blocks", stats.Blocks,
		"malformed", stats.Dropped,
		"unreadable_dates", unreadable,
		"outside_window", len(events)-len(relevant),
		"duplicate_uids", dupes,
	)

	n, err := s.reconcile(ctx, cfg.ID, bookings)
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.MarkSynced(ctx, cfg.ID, now); err != nil {
		return Result{}, fmt.Errorf("error recording sync: %w", err)
	}
	slog.InfoContext(ctx, "sync complete", "synced", n)

	return Result{
		ConfigurationID: cfg.ID,
		Status:          StatusSynced,
		Synced:          n,
		Parsed:          len(raws),
		Dropped:         stats.Dropped + unreadable + dupes,
		Filtered:        len(events) - len(relevant),
		SyncedAt:        &now,
	}, nil
}

// DueConfigurations lists the ids of active configurations whose sync
// frequency has elapsed.
func (s *Syncer) DueConfigurations(ctx context.Context) ([]string, error) {
	cfgs, err := s.repo.ActiveSyncConfigurations(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing active sync configurations: %w", err)
	}

	now := s.Now()
	ids := []string{}
	for _, cfg := range cfgs {
		if cfg.Due(now) {
			ids = append(ids, cfg.ID)
		}
	}

	return ids, nil
}

// SyncAll runs every due configuration. A failing configuration is logged
// and doesn't stop the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	ids, err := s.DueConfigurations(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      gosync.Mutex
		results = []Result{}
		g       errgroup.Group
	)
	g.SetLimit(max(s.Concurrency, 1))
	for _, id := range ids {
		g.Go(func() error {
			res, err := s.RunSync(ctx, id)
			if err != nil {
				// Already logged by RunSync.
				return nil
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "synced due configurations", "due", len(ids), "succeeded", len(results))
	return results, nil
}
