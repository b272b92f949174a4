package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"netops-flow/shared"
)

type UnitTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (s *UnitTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivityWithOptions(func(ctx context.Context, runID int64) (shared.RunResult, error) {
		return shared.RunResult{RunID: runID, Status: shared.RunStatusSuccess}, nil
	}, activity.RegisterOptions{Name: ExecuteRunActivityName})
}

func (s *UnitTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *UnitTestSuite) Test_ExecuteRunWorkflow_ReturnsTerminalStatus() {
	s.env.OnActivity(ExecuteRunActivityName, mock.Anything, int64(7)).
		Return(shared.RunResult{RunID: 7, Status: shared.RunStatusPartial}, nil).Once()

	s.env.ExecuteWorkflow(ExecuteRunWorkflow, RunWorkflowInput{RunID: 7})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var result shared.RunResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(int64(7), result.RunID)
	s.Equal(shared.RunStatusPartial, result.Status)
}

func (s *UnitTestSuite) Test_ExecuteRunWorkflow_MissingRunIsNotRetried() {
	s.env.OnActivity(ExecuteRunActivityName, mock.Anything, int64(9)).
		Return(shared.RunResult{RunID: 9}, temporal.NewNonRetryableApplicationError("run 9 not found", RunNotFoundErrorType, nil)).Once()

	s.env.ExecuteWorkflow(ExecuteRunWorkflow, RunWorkflowInput{RunID: 9})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Error(err)
	s.True(strings.Contains(err.Error(), "run 9 not found"), err.Error())
}

func (s *UnitTestSuite) Test_ExecuteRunWorkflow_RejectsNonTerminalStatus() {
	s.env.OnActivity(ExecuteRunActivityName, mock.Anything, int64(5)).
		Return(shared.RunResult{RunID: 5, Status: shared.RunStatusRunning}, nil).Once()

	s.env.ExecuteWorkflow(ExecuteRunWorkflow, RunWorkflowInput{RunID: 5})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr), err.Error())
	s.Equal(RunNotTerminalErrorType, appErr.Type())
	s.Contains(err.Error(), `non-terminal status "running"`)
}

func (s *UnitTestSuite) Test_ExecuteRunWorkflow_RetriesStoreErrors() {
	s.env.OnActivity(ExecuteRunActivityName, mock.Anything, int64(3)).
		Return(shared.RunResult{RunID: 3}, errors.New("database is locked")).Times(3)

	s.env.ExecuteWorkflow(ExecuteRunWorkflow, RunWorkflowInput{RunID: 3})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestRunActivityOptions(t *testing.T) {
	opts := runActivityOptions(RunWorkflowInput{RunID: 1})
	assert.Equal(t, DefaultRunTimeout, opts.StartToCloseTimeout)
	assert.Equal(t, int32(3), opts.RetryPolicy.MaximumAttempts)
	assert.Contains(t, opts.RetryPolicy.NonRetryableErrorTypes, RunNotFoundErrorType)

	opts = runActivityOptions(RunWorkflowInput{RunID: 1, Timeout: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, opts.StartToCloseTimeout)
}

func TestRunErrorType(t *testing.T) {
	assert.Equal(t, "timeout", runErrorType(temporal.NewTimeoutError(enumspb.TIMEOUT_TYPE_START_TO_CLOSE, nil)))
	assert.Equal(t, RunNotFoundErrorType, runErrorType(temporal.NewNonRetryableApplicationError("gone", RunNotFoundErrorType, nil)))
	assert.Equal(t, "unknown_error", runErrorType(errors.New("boom")))
	assert.False(t, IsTimeoutError(temporal.NewTimeoutError(enumspb.TIMEOUT_TYPE_HEARTBEAT, nil)))
}

func TestNewRunWorkflowID(t *testing.T) {
	a := NewRunWorkflowID(12)
	b := NewRunWorkflowID(12)
	assert.True(t, strings.HasPrefix(a, "workflow-run-12-"))
	assert.NotEqual(t, a, b)
}
