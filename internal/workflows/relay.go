// Package workflows runs relay jobs as Temporal workflows.
package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"harbor/internal/relay"
)

const (
	RelayWorkflowName = "RelayWorkflow"
	PruneWorkflowName = "PruneClaimsWorkflow"

	permanentErrorType = "RelayPermanent"
)

// JobHandler processes one relay job. relay.Processor satisfies it.
type JobHandler interface {
	Handle(ctx context.Context, job relay.Job) error
}

// ClaimPruner drops old webhook de-duplication records.
type ClaimPruner interface {
	PruneProcessedMessages(ctx context.Context, olderThan time.Time) (int64, error)
}

// RelayWorkflow sends a greeting or agent reply for one webhook delivery.
func RelayWorkflow(ctx workflow.Context, job relay.Job) error {
	if err := job.Validate(); err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), permanentErrorType, err)
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        4,
			NonRetryableErrorTypes: []string{permanentErrorType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, "ProcessJob", job).Get(ctx, nil)
}

// PruneClaimsWorkflow removes de-duplication claims older than retention.
func PruneClaimsWorkflow(ctx workflow.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, temporal.NewNonRetryableApplicationError("retention must be positive", permanentErrorType, nil)
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	cutoff := workflow.Now(ctx).Add(-retention)
	var removed int64
	err := workflow.ExecuteActivity(ctx, "PruneClaims", cutoff).Get(ctx, &removed)
	return removed, err
}

type Activities struct {
	Processor JobHandler
	Claims    ClaimPruner
}

func (a *Activities) ProcessJob(ctx context.Context, job relay.Job) error {
	if a.Processor == nil {
		return errors.New("processor required")
	}
	err := a.Processor.Handle(ctx, job)
	if err != nil && relay.IsPermanent(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), permanentErrorType, err)
	}
	return err
}

func (a *Activities) PruneClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	if a.Claims == nil {
		return 0, nil
	}
	return a.Claims.PruneProcessedMessages(ctx, cutoff)
}

// Registry is satisfied by worker.Worker and the test workflow environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register installs Harbor's workflows and activities on a worker.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(RelayWorkflow, workflow.RegisterOptions{Name: RelayWorkflowName})
	r.RegisterWorkflowWithOptions(PruneClaimsWorkflow, workflow.RegisterOptions{Name: PruneWorkflowName})
	r.RegisterActivity(acts)
}
