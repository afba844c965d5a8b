package sync

import (
	"errors"
	"fmt"
)

// A run fails with one of these. Per-event problems in a feed are never errors;
// those events are dropped and counted.
var (
	ErrConfigNotFound  = errors.New("sync configuration not found")
	ErrFeedUnreachable = errors.New("feed unreachable")
	ErrReconcile       = errors.New("reconcile failed")
)

// FeedError describes why a feed could not be fetched. It matches
// [ErrFeedUnreachable] with errors.Is.
type FeedError struct {
	// URL with any query string removed; feed URLs often embed access tokens.
	URL string
	// Upstream status, zero for transport failures.
	StatusCode int
	Status     string
	Err        error
}

func (e *FeedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed unreachable: %s responded %s", e.URL, e.Status)
	}
	return fmt.Sprintf("feed unreachable: %s: %s", e.URL, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

func (e *FeedError) Is(target error) bool {
	return target == ErrFeedUnreachable
}
