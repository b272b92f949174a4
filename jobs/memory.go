package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryJobService allocates job ids and keeps accepted jobs in process.
// It backs tests and dry runs.
type InMemoryJobService struct {
	mu     sync.Mutex
	nextID int64
	jobs   []Job
	logger *zap.Logger
}

// NewInMemoryJobService creates an empty in-memory job queue
func NewInMemoryJobService(logger *zap.Logger) *InMemoryJobService {
	return &InMemoryJobService{logger: logger}
}

// CreateJob implements JobService
func (s *InMemoryJobService) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	if req.JobType == "" {
		return Job{}, errors.New("job_type is required")
	}

	s.mu.Lock()
	s.nextID++
	job := newJob(s.nextID, req, time.Now().UTC())
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	s.logger.Info("Job queued",
		zap.Int64("jobID", job.ID),
		zap.String("jobType", job.JobType),
		zap.Int64("tenantID", job.TenantID))
	return job, nil
}

// Jobs returns a snapshot of every accepted job, oldest first
func (s *InMemoryJobService) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}
