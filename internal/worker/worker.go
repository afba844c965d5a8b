// Package worker runs syncs as temporal workflows: on demand through
// [Trigger], and for every due configuration on a fixed schedule.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const (
	TaskQueue = "lodgebook-sync"

	syncDueScheduleID = "sync_due"
	syncDueInterval   = 15 * time.Minute
)

// NewWorker sets up the worker with registration of workflows, activities, and schedules.
func NewWorker(ctx context.Context, syncer Syncer, cli client.Client) (worker.Worker, error) {
	a := activities{
		syncer: syncer,
	}

	w := worker.New(cli, TaskQueue, worker.Options{})
	register(w, a)

	if err := ensureSchedule(ctx, cli.ScheduleClient()); err != nil {
		return nil, fmt.Errorf("error creating schedule: %T, %v", err, err)
	}

	return w, nil
}

func register(r worker.Registry, a activities) {
	wfs := workflows{}
	r.RegisterWorkflow(wfs.SyncConfiguration)
	r.RegisterWorkflow(wfs.SyncDue)

	r.RegisterActivity(&a)
}

// Creates the schedule that syncs due configurations, or brings an existing
// one back to the current interval.
func ensureSchedule(ctx context.Context, sc client.ScheduleClient) error {
	spec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: syncDueInterval}},
	}

	handle := sc.GetHandle(ctx, syncDueScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		_, err = sc.Create(ctx, client.ScheduleOptions{
			ID:   syncDueScheduleID,
			Spec: spec,
			Action: &client.ScheduleWorkflowAction{
				ID:        syncDueScheduleID,
				Workflow:  workflows{}.SyncDue,
				TaskQueue: TaskQueue,
			},
			TriggerImmediately: true,
		})
		return err
	}

	return handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			schedule := input.Description.Schedule
			schedule.Spec = &spec
			return &client.ScheduleUpdate{
				Schedule: &schedule,
			}, nil
		},
	})
}
