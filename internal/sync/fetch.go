package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Feeds larger than this are rejected rather than read into memory.
const maxFeedBytes = 10 << 20

var errFeedTooLarge = errors.New("feed body exceeds 10MiB")

type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	// Number of feed URLs whose validators and bodies are remembered for
	// conditional requests.
	CacheSize int
	// Bodies larger than this are never remembered. Defaults to 1MiB, which
	// bounds the cache at CacheSize MiB.
	MaxCachedBodyBytes int
}

// Feed is the body of a fetched calendar.
type Feed struct {
	Body string
	// Set when the upstream answered 304 and the remembered body was reused.
	FromCache bool
}

// FeedFetcher retrieves a calendar feed by URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (Feed, error)
}

type cacheEntry struct {
	etag         string
	lastModified string
	body         string
}

// Fetcher downloads feeds over HTTP, revalidating with ETag and Last-Modified
// when a feed was seen before.
type Fetcher struct {
	client    *http.Client
	userAgent string
	cache     *lru.Cache[string, cacheEntry]
	maxCached int
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.MaxCachedBodyBytes <= 0 {
		cfg.MaxCachedBodyBytes = 1 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lodgebook-sync/1.0"
	}

	cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating feed cache: %s", err)
	}

	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		cache:     cache,
		maxCached: cfg.MaxCachedBodyBytes,
	}, nil
}

// Fetch GETs the feed. Anything other than a 2xx, or a 304 for a feed we hold
// a copy of, is a *FeedError.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (Feed, error) {
	safeURL := redactURL(feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Feed{}, &FeedError{URL: safeURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")

	cached, hasCached := f.cache.Get(feedURL)
	if hasCached {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Feed{}, &FeedError{URL: safeURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasCached {
		return Feed{Body: cached.body, FromCache: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Feed{}, &FeedError{URL: safeURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return Feed{}, &FeedError{URL: safeURL, Err: fmt.Errorf("error reading body: %w", err)}
	}
	if len(byts) > maxFeedBytes {
		return Feed{}, &FeedError{URL: safeURL, Err: errFeedTooLarge}
	}

	entry := cacheEntry{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		body:         string(byts),
	}
	if (entry.etag != "" || entry.lastModified != "") && len(byts) <= f.maxCached {
		f.cache.Add(feedURL, entry)
	} else {
		f.cache.Remove(feedURL)
	}

	return Feed{Body: entry.body}, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
