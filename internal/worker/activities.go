package worker

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/jdholdren/lodgebook/internal/sync"
)

// Syncer is the part of the sync core the activities drive.
type Syncer interface {
	RunSync(ctx context.Context, id string) (sync.Result, error)
	DueConfigurations(ctx context.Context) ([]string, error)
}

type activities struct {
	syncer Syncer
}

// Instance to make the workflow a bit more readable
var acts = activities{}

// Runs one sync. Sync errors become application errors so their kind
// survives the trip back to the caller.
func (a activities) SyncConfiguration(ctx context.Context, id string) (sync.Result, error) {
	res, err := a.syncer.RunSync(ctx, id)
	if err == nil {
		return res, nil
	}

	activity.GetLogger(ctx).Error("sync failed", "config_id", id, "error", err)

	var feedErr *sync.FeedError
	switch {
	case errors.Is(err, sync.ErrConfigNotFound):
		return sync.Result{}, temporal.NewNonRetryableApplicationError(err.Error(), errTypeConfigNotFound, nil)
	case errors.As(err, &feedErr):
		cause := ""
		if feedErr.Err != nil {
			cause = feedErr.Err.Error()
		}
		return sync.Result{}, temporal.NewApplicationError(err.Error(), errTypeFeedUnreachable,
			feedErr.URL, feedErr.StatusCode, feedErr.Status, cause)
	case errors.Is(err, sync.ErrReconcile):
		return sync.Result{}, temporal.NewApplicationError(err.Error(), errTypeReconcile)
	}

	return sync.Result{}, temporal.NewApplicationError(err.Error(), errTypeInternal)
}

// Lists the ids of configurations due for a sync.
func (a activities) DueConfigurations(ctx context.Context) ([]string, error) {
	return a.syncer.DueConfigurations(ctx)
}
