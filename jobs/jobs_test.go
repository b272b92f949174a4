package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
)

func TestInMemoryJobServiceAllocatesSequentialIDs(t *testing.T) {
	svc := NewInMemoryJobService(zap.NewNop())

	first, err := svc.CreateJob(context.Background(), JobRequest{JobType: "backup", Actor: "alice", TenantID: 7})
	require.NoError(t, err)
	second, err := svc.CreateJob(context.Background(), JobRequest{JobType: "run_commands"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, "alice", first.Actor)
	assert.Len(t, svc.Jobs(), 2)
}

func TestInMemoryJobServiceRejectsMissingType(t *testing.T) {
	svc := NewInMemoryJobService(zap.NewNop())
	_, err := svc.CreateJob(context.Background(), JobRequest{})
	assert.Error(t, err)
	assert.Empty(t, svc.Jobs())
}

func TestInMemoryJobServiceHonoursCancelledContext(t *testing.T) {
	svc := NewInMemoryJobService(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CreateJob(ctx, JobRequest{JobType: "backup"})
	assert.ErrorIs(t, err, context.Canceled)
}

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	called := m.Called(ctx, options, workflow, args)
	run, _ := called.Get(0).(client.WorkflowRun)
	return run, called.Error(1)
}

type fakeRecorder struct {
	recorded  []Job
	err       error
	statusErr error
}

func (f *fakeRecorder) RecordJob(_ context.Context, job *Job) error {
	if f.err != nil {
		return f.err
	}
	job.ID = int64(len(f.recorded) + 41)
	f.recorded = append(f.recorded, *job)
	return nil
}

func (f *fakeRecorder) UpdateJobStatus(_ context.Context, jobID int64, status string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	for i := range f.recorded {
		if f.recorded[i].ID == jobID {
			f.recorded[i].Status = status
			return nil
		}
	}
	return errors.New("unknown job")
}

func TestTemporalJobServiceDispatchesFleetWorkflow(t *testing.T) {
	recorder := &fakeRecorder{}
	starter := &mockStarter{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("fleet-job-41")
	run.On("GetRunID").Return("run-1")

	starter.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == "fleet-job-41" &&
			o.TaskQueue == "fleet-jobs" &&
			o.WorkflowIDReusePolicy == enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE
	}), FleetJobWorkflowType, mock.Anything).Return(run, nil)

	svc := NewTemporalJobService(recorder, starter, "fleet-jobs", zap.NewNop())
	job, err := svc.CreateJob(context.Background(), JobRequest{
		JobType:       "backup",
		Actor:         "alice",
		TargetSummary: map[string]interface{}{"site": "lab"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(41), job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	require.Len(t, recorder.recorded, 1)
	starter.AssertExpectations(t)
	run.AssertExpectations(t)
}

func TestTemporalJobServiceSurfacesDispatchFailure(t *testing.T) {
	starter := &mockStarter{}
	starter.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	recorder := &fakeRecorder{}
	svc := NewTemporalJobService(recorder, starter, "fleet-jobs", zap.NewNop())
	_, err := svc.CreateJob(context.Background(), JobRequest{JobType: "backup"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontend unavailable")
	require.Len(t, recorder.recorded, 1)
	assert.Equal(t, StatusFailed, recorder.recorded[0].Status, "an undispatched job must not stay queued")
}

func TestTemporalJobServiceReportsUnmarkableDispatchFailure(t *testing.T) {
	starter := &mockStarter{}
	starter.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	recorder := &fakeRecorder{statusErr: errors.New("database is locked")}
	svc := NewTemporalJobService(recorder, starter, "fleet-jobs", zap.NewNop())
	_, err := svc.CreateJob(context.Background(), JobRequest{JobType: "backup"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontend unavailable")
	assert.Contains(t, err.Error(), "database is locked")
}

func TestTemporalJobServiceSurfacesRecorderFailure(t *testing.T) {
	starter := &mockStarter{}
	svc := NewTemporalJobService(&fakeRecorder{err: errors.New("disk full")}, starter, "fleet-jobs", zap.NewNop())

	_, err := svc.CreateJob(context.Background(), JobRequest{JobType: "backup"})

	require.Error(t, err)
	starter.AssertNotCalled(t, "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
