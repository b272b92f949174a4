package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"netops-flow/shared"
)

// ExecuteRunActivityName is the activity that runs the executor inside a worker
const ExecuteRunActivityName = "ExecuteRun"

// DefaultRunTimeout bounds a run when the trigger does not set one
const DefaultRunTimeout = 30 * time.Minute

// RunWorkflowInput is the input to ExecuteRunWorkflow
type RunWorkflowInput struct {
	RunID   int64
	Timeout time.Duration
}

// ExecuteRunWorkflow is the queue-consumer trigger: it hands a queued run to
// the ExecuteRun activity and returns the run's terminal status.
func ExecuteRunWorkflow(ctx workflow.Context, input RunWorkflowInput) (shared.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ExecuteRunWorkflow started", "runID", input.RunID)

	options := runActivityOptions(input)
	ctx = workflow.WithActivityOptions(ctx, options)

	var result shared.RunResult
	err := workflow.ExecuteActivity(ctx, ExecuteRunActivityName, input.RunID).Get(ctx, &result)
	if err != nil {
		logger.Error("Run execution failed",
			"runID", input.RunID,
			"errorType", runErrorType(err),
			"timeout", options.StartToCloseTimeout,
			"error", err)
		return shared.RunResult{RunID: input.RunID}, fmt.Errorf("execute run %d: %w", input.RunID, err)
	}

	if !result.Status.IsTerminal() {
		logger.Error("Run did not reach a terminal status", "runID", input.RunID, "status", result.Status)
		return result, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("run %d ended in non-terminal status %q", input.RunID, result.Status),
			RunNotTerminalErrorType, nil)
	}

	logger.Info("ExecuteRunWorkflow completed", "runID", result.RunID, "status", result.Status)
	return result, nil
}

// runActivityOptions allows a few attempts for store hiccups. A retried
// attempt for a finished run just reports its status; one for a run left
// running fails that run.
func runActivityOptions(input RunWorkflowInput) workflow.ActivityOptions {
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: []string{RunNotFoundErrorType},
		},
	}
}

// RunNotFoundErrorType marks activity failures that retrying cannot fix
const RunNotFoundErrorType = "RunNotFound"

// RunNotTerminalErrorType fails the workflow when the activity reports a run still in flight
const RunNotTerminalErrorType = "RunNotTerminal"

// IsTimeoutError checks if an error is a start-to-close timeout
func IsTimeoutError(err error) bool {
	var timeoutErr *temporal.TimeoutError
	return temporal.IsTimeoutError(err) &&
		errors.As(err, &timeoutErr) &&
		timeoutErr.TimeoutType() == enumspb.TIMEOUT_TYPE_START_TO_CLOSE
}

func runErrorType(err error) string {
	if IsTimeoutError(err) {
		return "timeout"
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Type() != "" {
			return appErr.Type()
		}
		return "application_error"
	}
	return "unknown_error"
}

// NewRunWorkflowID returns a unique Temporal workflow id for one trigger of a run
func NewRunWorkflowID(runID int64) string {
	return fmt.Sprintf("workflow-run-%d-%s", runID, uuid.NewString())
}
