package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// FleetJobWorkflowType is the workflow the device automation workers register
const FleetJobWorkflowType = "FleetJobWorkflow"

// JobRecorder persists job rows. RecordJob assigns the id and creation time.
type JobRecorder interface {
	RecordJob(ctx context.Context, job *Job) error
	UpdateJobStatus(ctx context.Context, jobID int64, status string) error
}

// WorkflowStarter is the part of client.Client used to hand jobs to the fleet workers
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalJobService records each job and starts a FleetJobWorkflow for it
// on the fleet task queue. It does not wait for the workflow.
type TemporalJobService struct {
	recorder     JobRecorder
	starter      WorkflowStarter
	taskQueue    string
	workflowType string
	logger       *zap.Logger
}

// NewTemporalJobService creates a job service dispatching to taskQueue
func NewTemporalJobService(recorder JobRecorder, starter WorkflowStarter, taskQueue string, logger *zap.Logger) *TemporalJobService {
	return &TemporalJobService{
		recorder:     recorder,
		starter:      starter,
		taskQueue:    taskQueue,
		workflowType: FleetJobWorkflowType,
		logger:       logger,
	}
}

// CreateJob implements JobService
func (s *TemporalJobService) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	if req.JobType == "" {
		return Job{}, errors.New("job_type is required")
	}

	job := newJob(0, req, time.Now().UTC())
	if err := s.recorder.RecordJob(ctx, &job); err != nil {
		return Job{}, fmt.Errorf("record job: %w", err)
	}

	options := client.StartWorkflowOptions{
		ID:                       FleetJobWorkflowID(job.ID),
		TaskQueue:                s.taskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}
	run, err := s.starter.ExecuteWorkflow(ctx, options, s.workflowType, job)
	if err != nil {
		s.logger.Error("Failed to dispatch job",
			zap.Int64("jobID", job.ID),
			zap.String("jobType", job.JobType),
			zap.Error(err))
		// Nothing will pick the row up, so it must not stay queued.
		if markErr := s.recorder.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, StatusFailed); markErr != nil {
			s.logger.Error("Failed to mark undispatched job failed",
				zap.Int64("jobID", job.ID),
				zap.Error(markErr))
			return Job{}, errors.Join(fmt.Errorf("dispatch job %d: %w", job.ID, err), markErr)
		}
		return Job{}, fmt.Errorf("dispatch job %d: %w", job.ID, err)
	}

	s.logger.Info("Job dispatched",
		zap.Int64("jobID", job.ID),
		zap.String("jobType", job.JobType),
		zap.String("workflowID", run.GetID()),
		zap.String("runID", run.GetRunID()))
	return job, nil
}

// FleetJobWorkflowID is the Temporal workflow id used for a job
func FleetJobWorkflowID(jobID int64) string {
	return fmt.Sprintf("fleet-job-%d", jobID)
}
