package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jdholdren/lodgebook/internal/sync"
)

type workflows struct{}

// SyncDueResult lists which due configurations synced and which failed.
type SyncDueResult struct {
	Synced []string `json:"synced"`
	Failed []string `json:"failed"`
}

var syncActivityOptions = workflow.ActivityOptions{
	// The fetch alone may take the whole fetch timeout.
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3, // 0 is unlimited retries
	},
}

func (workflows) SyncConfiguration(ctx workflow.Context, id string) (sync.Result, error) {
	ctx = workflow.WithActivityOptions(ctx, syncActivityOptions)

	var res sync.Result
	if err := workflow.ExecuteActivity(ctx, acts.SyncConfiguration, id).Get(ctx, &res); err != nil {
		return sync.Result{}, err
	}

	return res, nil
}

// SyncDue syncs every due configuration in parallel. One failing
// configuration doesn't fail the others.
func (workflows) SyncDue(ctx workflow.Context) (SyncDueResult, error) {
	ctx = workflow.WithActivityOptions(ctx, syncActivityOptions)
	log := workflow.GetLogger(ctx)

	var ids []string
	if err := workflow.ExecuteActivity(ctx, acts.DueConfigurations).Get(ctx, &ids); err != nil {
		log.Error("failed to list due configurations", "error", err)
		return SyncDueResult{}, err
	}

	res := SyncDueResult{Synced: []string{}, Failed: []string{}}
	wg := workflow.NewWaitGroup(ctx)
	wg.Add(len(ids))
	for _, id := range ids {
		workflow.Go(ctx, func(ctx workflow.Context) {
			defer wg.Done()

			if err := workflow.ExecuteActivity(ctx, acts.SyncConfiguration, id).Get(ctx, nil); err != nil {
				log.Error("failed to sync configuration", "config_id", id, "error", err)
				res.Failed = append(res.Failed, id)
				return
			}
			res.Synced = append(res.Synced, id)
		})
	}

	wg.Wait(ctx)

	sort.Strings(res.Synced)
	sort.Strings(res.Failed)
	return res, nil
}

// Trigger runs syncs through temporal. It has the same surface as the
// in-process syncer so the API can use either.
type Trigger struct {
	cli client.Client
}

func NewTrigger(cli client.Client) Trigger {
	return Trigger{cli: cli}
}

// RunSync starts the SyncConfiguration workflow and waits for it. A sync already
// running for the configuration is joined instead of started twice.
func (t Trigger) RunSync(ctx context.Context, id string) (sync.Result, error) {
	options := client.StartWorkflowOptions{
		ID:                       "sync_configuration_" + id,
		TaskQueue:                TaskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	we, err := t.cli.ExecuteWorkflow(ctx, options, workflows{}.SyncConfiguration, id)
	if err != nil {
		return sync.Result{}, fmt.Errorf("unable to execute workflow: %s", err)
	}

	var res sync.Result
	if err := we.Get(ctx, &res); err != nil {
		return sync.Result{}, asSyncErr(err)
	}

	return res, nil
}
