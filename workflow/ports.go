package workflow

import (
	"context"

	"netops-flow/shared"
)

// RunStore is the persistence port the executor depends on.
// Implementations live in the store package.
type RunStore interface {
	GetRun(ctx context.Context, runID int64) (*shared.Run, error)
	// GetWorkflow loads one version of a workflow; version 0 means the latest
	GetWorkflow(ctx context.Context, workflowID int64, version int) (*shared.Workflow, error)
	UpdateRun(ctx context.Context, run *shared.Run) error
	// CreateSteps inserts the steps and assigns their ids
	CreateSteps(ctx context.Context, steps []*shared.Step) error
	UpdateStep(ctx context.Context, step *shared.Step) error
	ListSteps(ctx context.Context, runID int64) ([]shared.Step, error)
	AppendLog(ctx context.Context, entry *shared.LogEntry) error
	// ListLogs returns a run's log entries ordered by timestamp
	ListLogs(ctx context.Context, runID int64) ([]shared.LogEntry, error)
}
