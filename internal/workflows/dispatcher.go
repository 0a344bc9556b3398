package workflows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"harbor/internal/relay"
)

// WorkflowStarter is the part of client.Client used to start runs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalDispatcher starts one RelayWorkflow per job. The workflow id is
// derived from the job key, so redelivered webhooks collapse into one run.
type TemporalDispatcher struct {
	Client    WorkflowStarter
	TaskQueue string
	Logger    *slog.Logger
}

func (d *TemporalDispatcher) Enqueue(ctx context.Context, job relay.Job) error {
	if d == nil || d.Client == nil {
		return errors.New("temporal client required")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	opts := client.StartWorkflowOptions{
		ID:                                       "harbor-" + job.Key(),
		TaskQueue:                                d.TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowExecutionTimeout:                 15 * time.Minute,
	}
	run, err := d.Client.ExecuteWorkflow(ctx, opts, RelayWorkflowName, job)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			d.logger().Info("harbor.duplicate_job", "workflow_id", opts.ID)
			return nil
		}
		return err
	}
	d.logger().Debug("harbor.workflow_started", "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}

func (d *TemporalDispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// SchedulePrune starts the cron workflow that prunes de-duplication claims.
func SchedulePrune(ctx context.Context, c WorkflowStarter, taskQueue, cronSpec string, retention time.Duration) error {
	if c == nil {
		return errors.New("temporal client required")
	}
	opts := client.StartWorkflowOptions{
		ID:           "harbor-prune-claims",
		TaskQueue:    taskQueue,
		CronSchedule: cronSpec,
	}
	_, err := c.ExecuteWorkflow(ctx, opts, PruneWorkflowName, retention)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return err
}
