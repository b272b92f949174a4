package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"netops-flow/shared"
	"netops-flow/store"
	"netops-flow/workflow"
)

// RunExecutor executes one queued run
type RunExecutor interface {
	Execute(ctx context.Context, runID int64) (shared.RunResult, error)
}

// RunActivities exposes the executor to Temporal workers
type RunActivities struct {
	Executor RunExecutor
}

// ExecuteRun runs the executor for runID
func (a *RunActivities) ExecuteRun(ctx context.Context, runID int64) (shared.RunResult, error) {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)
	logger.Info("Executing run", "runID", runID, "attempt", info.Attempt)

	result, err := a.Executor.Execute(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return result, temporal.NewNonRetryableApplicationError(err.Error(), workflow.RunNotFoundErrorType, err)
		}
		logger.Error("Run execution failed", "runID", runID, "error", err)
		return result, err
	}

	logger.Info("Run finished", "runID", result.RunID, "status", result.Status)
	return result, nil
}
