// Package jobs defines the boundary to the fleet job subsystem. A service node
// never talks to devices itself; it asks a JobService to queue a job.
package jobs

import (
	"context"
	"time"
)

const (
	// StatusQueued is the only status a freshly accepted job can have
	StatusQueued = "queued"
	// StatusFailed marks a recorded job that never reached the fleet workers
	StatusFailed = "failed"
)

// JobRequest describes one fleet-wide operation
type JobRequest struct {
	JobType       string                 `json:"job_type"`
	Actor         string                 `json:"actor"`
	TenantID      int64                  `json:"tenant_id"`
	TargetSummary map[string]interface{} `json:"target_summary"`
	Payload       map[string]interface{} `json:"payload"`
}

// Job is an accepted request, as persisted by the job subsystem
type Job struct {
	ID            int64                  `json:"id"`
	JobType       string                 `json:"job_type"`
	TenantID      int64                  `json:"tenant_id"`
	Actor         string                 `json:"actor"`
	TargetSummary map[string]interface{} `json:"target_summary"`
	Payload       map[string]interface{} `json:"payload"`
	Status        string                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
}

// JobService accepts jobs for asynchronous execution.
// CreateJob returns once the job is queued; it never waits for the job to finish.
type JobService interface {
	CreateJob(ctx context.Context, req JobRequest) (Job, error)
}

func newJob(id int64, req JobRequest, now time.Time) Job {
	return Job{
		ID:            id,
		JobType:       req.JobType,
		TenantID:      req.TenantID,
		Actor:         req.Actor,
		TargetSummary: req.TargetSummary,
		Payload:       req.Payload,
		Status:        StatusQueued,
		CreatedAt:     now,
	}
}
