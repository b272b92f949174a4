package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netops-flow/jobs"
	"netops-flow/shared"
)

// MemoryStore keeps everything in process. Values are copied in and out so
// callers never share maps with the store.
type MemoryStore struct {
	mu        sync.Mutex
	workflows map[int64][]*shared.Workflow // ascending by version
	runs      map[int64]*shared.Run
	steps     map[int64][]*shared.Step // by run id
	logs      map[int64][]shared.LogEntry
	jobs      []jobs.Job
	seq       struct{ workflow, run, step, log, job int64 }
	now       func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[int64][]*shared.Workflow),
		runs:      make(map[int64]*shared.Run),
		steps:     make(map[int64][]*shared.Step),
		logs:      make(map[int64][]shared.LogEntry),
		now:       time.Now,
	}
}

// SaveWorkflow stores a new version of wf. A zero ID allocates a new workflow.
// The assigned ID and version are written back to wf.
func (m *MemoryStore) SaveWorkflow(_ context.Context, wf *shared.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wf.ID == 0 {
		m.seq.workflow++
		wf.ID = m.seq.workflow
	} else if wf.ID > m.seq.workflow {
		m.seq.workflow = wf.ID
	}
	versions := m.workflows[wf.ID]
	wf.Version = len(versions) + 1
	if len(versions) > 0 {
		wf.Version = versions[len(versions)-1].Version + 1
	}
	m.workflows[wf.ID] = append(versions, cloneWorkflow(wf))
	return nil
}

// GetWorkflow returns one version of a workflow; version 0 means the latest
func (m *MemoryStore) GetWorkflow(_ context.Context, workflowID int64, version int) (*shared.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.workflows[workflowID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("workflow %d: %w", workflowID, ErrNotFound)
	}
	if version == 0 {
		return cloneWorkflow(versions[len(versions)-1]), nil
	}
	for _, wf := range versions {
		if wf.Version == version {
			return cloneWorkflow(wf), nil
		}
	}
	return nil, fmt.Errorf("workflow %d version %d: %w", workflowID, version, ErrNotFound)
}

// CreateRun inserts a run in the queued state and assigns its id
func (m *MemoryStore) CreateRun(_ context.Context, run *shared.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq.run++
	run.ID = m.seq.run
	if run.Status == "" {
		run.Status = shared.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = m.now().UTC()
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID int64) (*shared.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return cloneRun(run), nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run *shared.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return fmt.Errorf("run %d: %w", run.ID, ErrNotFound)
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// CancelRun moves a queued run to cancelled
func (m *MemoryStore) CancelRun(_ context.Context, runID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	if run.Status != shared.RunStatusQueued {
		return fmt.Errorf("run %d is %s: %w", runID, run.Status, ErrRunNotQueued)
	}
	run.Status = shared.RunStatusCancelled
	run.FinishedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) CreateSteps(_ context.Context, steps []*shared.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, step := range steps {
		for _, existing := range m.steps[step.RunID] {
			if existing.NodeRef == step.NodeRef {
				return fmt.Errorf("step for run %d node %s already exists", step.RunID, step.NodeRef)
			}
		}
		m.seq.step++
		step.ID = m.seq.step
		m.steps[step.RunID] = append(m.steps[step.RunID], cloneStep(step))
	}
	return nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, step *shared.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.steps[step.RunID] {
		if existing.ID == step.ID {
			m.steps[step.RunID][i] = cloneStep(step)
			return nil
		}
	}
	return fmt.Errorf("step %d: %w", step.ID, ErrNotFound)
}

// ListSteps returns a run's steps in creation order
func (m *MemoryStore) ListSteps(_ context.Context, runID int64) ([]shared.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]shared.Step, 0, len(m.steps[runID]))
	for _, step := range m.steps[runID] {
		out = append(out, *cloneStep(step))
	}
	return out, nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry *shared.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq.log++
	entry.ID = m.seq.log
	e := *entry
	e.Context = shared.CloneMap(entry.Context)
	m.logs[entry.RunID] = append(m.logs[entry.RunID], e)
	return nil
}

// ListLogs returns a run's log entries ordered by timestamp
func (m *MemoryStore) ListLogs(_ context.Context, runID int64) ([]shared.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]shared.LogEntry(nil), m.logs[runID]...)
	sortLogs(out)
	return out, nil
}

// RecordJob implements jobs.JobRecorder
func (m *MemoryStore) RecordJob(_ context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq.job++
	job.ID = m.seq.job
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now().UTC()
	}
	m.jobs = append(m.jobs, *job)
	return nil
}

// UpdateJobStatus implements jobs.JobRecorder
func (m *MemoryStore) UpdateJobStatus(_ context.Context, jobID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.jobs {
		if m.jobs[i].ID == jobID {
			m.jobs[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
}

// ListJobs returns every recorded job, oldest first
func (m *MemoryStore) ListJobs(_ context.Context) ([]jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jobs.Job(nil), m.jobs...), nil
}
