package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"netops-flow/jobs"
	"netops-flow/shared"
	"netops-flow/workflow"
)

var (
	_ workflow.RunStore = (*MemoryStore)(nil)
	_ workflow.RunStore = (*SQLiteStore)(nil)
	_ jobs.JobRecorder  = (*MemoryStore)(nil)
	_ jobs.JobRecorder  = (*SQLiteStore)(nil)
)

type runStore interface {
	SaveWorkflow(ctx context.Context, wf *shared.Workflow) error
	GetWorkflow(ctx context.Context, workflowID int64, version int) (*shared.Workflow, error)
	CreateRun(ctx context.Context, run *shared.Run) error
	GetRun(ctx context.Context, runID int64) (*shared.Run, error)
	UpdateRun(ctx context.Context, run *shared.Run) error
	CancelRun(ctx context.Context, runID int64) error
	CreateSteps(ctx context.Context, steps []*shared.Step) error
	UpdateStep(ctx context.Context, step *shared.Step) error
	ListSteps(ctx context.Context, runID int64) ([]shared.Step, error)
	AppendLog(ctx context.Context, entry *shared.LogEntry) error
	ListLogs(ctx context.Context, runID int64) ([]shared.LogEntry, error)
	RecordJob(ctx context.Context, job *jobs.Job) error
	UpdateJobStatus(ctx context.Context, jobID int64, status string) error
	ListJobs(ctx context.Context) ([]jobs.Job, error)
}

// StoreSuite runs the same contract against every adapter
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) runStore
	store    runStore
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(*testing.T) runStore { return NewMemoryStore() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) runStore {
		st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "flow.db"), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}})
}

func (s *StoreSuite) sampleWorkflow() *shared.Workflow {
	return &shared.Workflow{
		Name:     "backup",
		TenantID: 3,
		IsActive: true,
		Nodes: []shared.Node{
			{Ref: "A", Category: shared.CategoryData, Type: shared.NodeTypeSetVariable, Config: map[string]interface{}{"key": "mode", "value": "full"}},
			{Ref: "B", Category: shared.CategoryNotification, Type: "email", Config: map[string]interface{}{"message": "done"}, OrderIndex: 1},
		},
		Edges: []shared.Edge{{SourceRef: "A", TargetRef: "B", Label: "true"}},
	}
}

func (s *StoreSuite) TestWorkflowVersions() {
	wf := s.sampleWorkflow()
	s.Require().NoError(s.store.SaveWorkflow(s.ctx, wf))
	s.NotZero(wf.ID)
	s.Equal(1, wf.Version)

	wf.Name = "backup v2"
	s.Require().NoError(s.store.SaveWorkflow(s.ctx, wf))
	s.Equal(2, wf.Version)

	latest, err := s.store.GetWorkflow(s.ctx, wf.ID, 0)
	s.Require().NoError(err)
	s.Equal(2, latest.Version)
	s.Equal("backup v2", latest.Name)

	first, err := s.store.GetWorkflow(s.ctx, wf.ID, 1)
	s.Require().NoError(err)
	s.Equal("backup", first.Name)
	s.Require().Len(first.Nodes, 2)
	s.Equal("full", first.Nodes[0].Config["value"])
	s.Equal("true", first.Edges[0].Label)

	_, err = s.store.GetWorkflow(s.ctx, wf.ID, 9)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestRunLifecycle() {
	run := &shared.Run{WorkflowID: 1, TriggeredBy: "alice", Inputs: map[string]interface{}{"site": "lab"}}
	s.Require().NoError(s.store.CreateRun(s.ctx, run))
	s.NotZero(run.ID)
	s.Equal(shared.RunStatusQueued, run.Status)

	loaded, err := s.store.GetRun(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal("alice", loaded.TriggeredBy)
	s.Equal("lab", loaded.Inputs["site"])

	started := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	loaded.Status = shared.RunStatusSuccess
	loaded.StartedAt = started
	loaded.Outputs = map[string]interface{}{"A": map[string]interface{}{"ok": true}}
	s.Require().NoError(s.store.UpdateRun(s.ctx, loaded))

	again, err := s.store.GetRun(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Equal(shared.RunStatusSuccess, again.Status)
	s.True(started.Equal(again.StartedAt))
	s.Equal(map[string]interface{}{"ok": true}, again.Outputs["A"])

	_, err = s.store.GetRun(s.ctx, 999)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestCancelOnlyQueuedRuns() {
	queued := &shared.Run{WorkflowID: 1}
	s.Require().NoError(s.store.CreateRun(s.ctx, queued))
	s.Require().NoError(s.store.CancelRun(s.ctx, queued.ID))

	loaded, err := s.store.GetRun(s.ctx, queued.ID)
	s.Require().NoError(err)
	s.Equal(shared.RunStatusCancelled, loaded.Status)

	s.ErrorIs(s.store.CancelRun(s.ctx, queued.ID), ErrRunNotQueued)
	s.ErrorIs(s.store.CancelRun(s.ctx, 12345), ErrNotFound)
}

func (s *StoreSuite) TestStepsAndLogs() {
	run := &shared.Run{WorkflowID: 1}
	s.Require().NoError(s.store.CreateRun(s.ctx, run))

	steps := []*shared.Step{
		{RunID: run.ID, NodeRef: "A", Status: shared.StepStatusQueued},
		{RunID: run.ID, NodeRef: "B", Status: shared.StepStatusQueued},
	}
	s.Require().NoError(s.store.CreateSteps(s.ctx, steps))
	s.NotZero(steps[0].ID)
	s.NotEqual(steps[0].ID, steps[1].ID)

	steps[0].Status = shared.StepStatusSuccess
	steps[0].Output = map[string]interface{}{"condition": true}
	s.Require().NoError(s.store.UpdateStep(s.ctx, steps[0]))

	listed, err := s.store.ListSteps(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal("A", listed[0].NodeRef)
	s.Equal(shared.StepStatusSuccess, listed[0].Status)
	s.Equal(true, listed[0].Output["condition"])
	s.Equal(shared.StepStatusQueued, listed[1].Status)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.AppendLog(s.ctx, &shared.LogEntry{RunID: run.ID, Timestamp: base.Add(2), Level: shared.LogLevelInfo, Message: "second"}))
	s.Require().NoError(s.store.AppendLog(s.ctx, &shared.LogEntry{RunID: run.ID, Timestamp: base.Add(1), Level: shared.LogLevelWarn, Message: "first", NodeRef: "B"}))

	logs, err := s.store.ListLogs(s.ctx, run.ID)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal("first", logs[0].Message)
	s.Equal("B", logs[0].NodeRef)
	s.Equal("second", logs[1].Message)
}

func (s *StoreSuite) TestDuplicateStepRejected() {
	run := &shared.Run{WorkflowID: 1}
	s.Require().NoError(s.store.CreateRun(s.ctx, run))
	s.Require().NoError(s.store.CreateSteps(s.ctx, []*shared.Step{{RunID: run.ID, NodeRef: "A", Status: shared.StepStatusQueued}}))
	s.Error(s.store.CreateSteps(s.ctx, []*shared.Step{{RunID: run.ID, NodeRef: "A", Status: shared.StepStatusQueued}}))
}

func (s *StoreSuite) TestJobs() {
	job := &jobs.Job{JobType: "backup", Actor: "alice", TargetSummary: map[string]interface{}{"site": "lab"}, Status: jobs.StatusQueued}
	s.Require().NoError(s.store.RecordJob(s.ctx, job))
	s.NotZero(job.ID)
	s.False(job.CreatedAt.IsZero())

	listed, err := s.store.ListJobs(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal("backup", listed[0].JobType)
	s.Equal("lab", listed[0].TargetSummary["site"])

	s.Require().NoError(s.store.UpdateJobStatus(s.ctx, job.ID, jobs.StatusFailed))
	listed, err = s.store.ListJobs(s.ctx)
	s.Require().NoError(err)
	s.Equal(jobs.StatusFailed, listed[0].Status)

	s.ErrorIs(s.store.UpdateJobStatus(s.ctx, job.ID+100, jobs.StatusFailed), ErrNotFound)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	run := &shared.Run{WorkflowID: 1, Inputs: map[string]interface{}{"a": 1}}
	require.NoError(t, st.CreateRun(ctx, run))

	run.Inputs["a"] = 2
	loaded, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Inputs["a"])
}
