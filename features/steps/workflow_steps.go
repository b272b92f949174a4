package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"netops-flow/jobs"
	"netops-flow/shared"
	"netops-flow/store"
	"netops-flow/workflow"
)

// unresponsiveJobs accepts nothing and only returns once the node deadline expires
type unresponsiveJobs struct{}

func (unresponsiveJobs) CreateJob(ctx context.Context, _ jobs.JobRequest) (jobs.Job, error) {
	<-ctx.Done()
	return jobs.Job{}, ctx.Err()
}

// RunTestContext holds state across steps in a scenario
type RunTestContext struct {
	logger   *zap.Logger
	store    *store.MemoryStore
	jobs     *jobs.InMemoryJobService
	jobSvc   jobs.JobService
	opts     workflow.ExecutorOptions
	workflow *shared.Workflow
	inputs   map[string]interface{}
	run      *shared.Run
	steps    map[string]shared.Step
	logs     []shared.LogEntry
	execErr  error
}

// NewRunTestContext creates a new context for a scenario
func NewRunTestContext() *RunTestContext {
	return &RunTestContext{logger: zap.NewNop()}
}

// RegisterSteps connects Gherkin steps to Go functions
func (rtc *RunTestContext) RegisterSteps(ctx *godog.ScenarioContext) {
	ctx.Step(`^a workflow defined as:$`, rtc.aWorkflowDefinedAs)
	ctx.Step(`^the run input "([^"]*)" is "([^"]*)"$`, rtc.theRunInputIs)
	ctx.Step(`^the node timeout is (\d+) milliseconds$`, rtc.theNodeTimeoutIsMilliseconds)
	ctx.Step(`^runs without an entry point are rejected$`, rtc.runsWithoutAnEntryPointAreRejected)
	ctx.Step(`^the job service never responds$`, rtc.theJobServiceNeverResponds)

	ctx.Step(`^I execute a run of the workflow$`, rtc.iExecuteARunOfTheWorkflow)
	ctx.Step(`^I cancel a queued run and then execute it$`, rtc.iCancelAQueuedRunAndThenExecuteIt)

	ctx.Step(`^the run status should be "([^"]*)"$`, rtc.theRunStatusShouldBe)
	ctx.Step(`^the run should have (\d+) steps?$`, rtc.theRunShouldHaveSteps)
	ctx.Step(`^node "([^"]*)" should be "([^"]*)"$`, rtc.nodeShouldBe)
	ctx.Step(`^the output of node "([^"]*)" should have "([^"]*)" equal to "([^"]*)"$`, rtc.theOutputOfNodeShouldHaveEqualTo)
	ctx.Step(`^the run context should have "([^"]*)" equal to "([^"]*)"$`, rtc.theRunContextShouldHaveEqualTo)
	ctx.Step(`^the run log should contain an? "([^"]*)" entry for node "([^"]*)"$`, rtc.theRunLogShouldContainAnEntryForNode)
	ctx.Step(`^the run log timestamps should be strictly increasing$`, rtc.theRunLogTimestampsShouldBeStrictlyIncreasing)
	ctx.Step(`^(\d+) jobs? should have been queued$`, rtc.jobsShouldHaveBeenQueued)

	// Before each scenario, start from an empty store
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		rtc.store = store.NewMemoryStore()
		rtc.jobs = jobs.NewInMemoryJobService(rtc.logger)
		rtc.jobSvc = rtc.jobs
		rtc.opts = workflow.ExecutorOptions{}
		rtc.workflow = nil
		rtc.inputs = nil
		rtc.run = nil
		rtc.steps = nil
		rtc.logs = nil
		rtc.execErr = nil
		return ctx, nil
	})
}

func (rtc *RunTestContext) aWorkflowDefinedAs(doc *godog.DocString) error {
	def, err := workflow.ParseDefinition([]byte(doc.Content))
	if err != nil {
		return err
	}
	wf := def.Workflow
	if err := rtc.store.SaveWorkflow(context.Background(), &wf); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	rtc.workflow = &wf
	rtc.inputs = def.Inputs
	return nil
}

func (rtc *RunTestContext) theRunInputIs(key, value string) error {
	if rtc.inputs == nil {
		rtc.inputs = make(map[string]interface{})
	}
	rtc.inputs[key] = value
	return nil
}

func (rtc *RunTestContext) theNodeTimeoutIsMilliseconds(ms int) error {
	rtc.opts.NodeTimeout = time.Duration(ms) * time.Millisecond
	return nil
}

func (rtc *RunTestContext) runsWithoutAnEntryPointAreRejected() error {
	rtc.opts.RejectNoEntryPoint = true
	return nil
}

func (rtc *RunTestContext) theJobServiceNeverResponds() error {
	rtc.jobSvc = unresponsiveJobs{}
	return nil
}

func (rtc *RunTestContext) queueRun() (*shared.Run, error) {
	if rtc.workflow == nil {
		return nil, fmt.Errorf("no workflow defined before queueing a run")
	}
	run := &shared.Run{
		WorkflowID:  rtc.workflow.ID,
		TenantID:    rtc.workflow.TenantID,
		TriggeredBy: "godog",
		Inputs:      rtc.inputs,
	}
	if err := rtc.store.CreateRun(context.Background(), run); err != nil {
		return nil, err
	}
	return run, nil
}

func (rtc *RunTestContext) execute(runID int64) error {
	ctx := context.Background()
	executor := workflow.NewExecutor(rtc.store, rtc.jobSvc, rtc.logger, rtc.opts)
	_, rtc.execErr = executor.Execute(ctx, runID)
	if rtc.execErr != nil {
		return fmt.Errorf("run %d could not be executed: %w", runID, rtc.execErr)
	}

	run, err := rtc.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := rtc.store.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	logs, err := rtc.store.ListLogs(ctx, runID)
	if err != nil {
		return err
	}

	rtc.run = run
	rtc.steps = make(map[string]shared.Step, len(steps))
	for _, st := range steps {
		rtc.steps[st.NodeRef] = st
	}
	rtc.logs = logs
	return nil
}

func (rtc *RunTestContext) iExecuteARunOfTheWorkflow() error {
	run, err := rtc.queueRun()
	if err != nil {
		return err
	}
	return rtc.execute(run.ID)
}

func (rtc *RunTestContext) iCancelAQueuedRunAndThenExecuteIt() error {
	run, err := rtc.queueRun()
	if err != nil {
		return err
	}
	if err := rtc.store.CancelRun(context.Background(), run.ID); err != nil {
		return err
	}
	return rtc.execute(run.ID)
}

func (rtc *RunTestContext) theRunStatusShouldBe(status string) error {
	if rtc.run == nil {
		return fmt.Errorf("no run was executed")
	}
	if string(rtc.run.Status) != status {
		return fmt.Errorf("run status is '%s', but expected '%s' (error: %s)", rtc.run.Status, status, rtc.run.Error)
	}
	return nil
}

func (rtc *RunTestContext) theRunShouldHaveSteps(n int) error {
	if len(rtc.steps) != n {
		return fmt.Errorf("run has %d steps, but expected %d", len(rtc.steps), n)
	}
	return nil
}

func (rtc *RunTestContext) nodeShouldBe(nodeRef, status string) error {
	step, ok := rtc.steps[nodeRef]
	if !ok {
		return fmt.Errorf("no step recorded for node '%s'", nodeRef)
	}
	if string(step.Status) != status {
		return fmt.Errorf("node '%s' is '%s', but expected '%s' (error: %s)", nodeRef, step.Status, status, step.Error)
	}
	return nil
}

func (rtc *RunTestContext) theOutputOfNodeShouldHaveEqualTo(nodeRef, key, expected string) error {
	step, ok := rtc.steps[nodeRef]
	if !ok {
		return fmt.Errorf("no step recorded for node '%s'", nodeRef)
	}
	val, ok := step.Output[key]
	if !ok {
		return fmt.Errorf("output of node '%s' has no key '%s': %v", nodeRef, key, step.Output)
	}
	if actual := fmt.Sprintf("%v", val); actual != expected { // Convert to string for comparison
		return fmt.Errorf("output '%s' of node '%s' is '%s', but expected '%s'", key, nodeRef, actual, expected)
	}
	return nil
}

func (rtc *RunTestContext) theRunContextShouldHaveEqualTo(key, expected string) error {
	val, ok := rtc.run.Context[key]
	if !ok {
		return fmt.Errorf("run context has no key '%s': %v", key, rtc.run.Context)
	}
	if actual := fmt.Sprintf("%v", val); actual != expected {
		return fmt.Errorf("run context '%s' is '%s', but expected '%s'", key, actual, expected)
	}
	return nil
}

func (rtc *RunTestContext) theRunLogShouldContainAnEntryForNode(level, nodeRef string) error {
	for _, entry := range rtc.logs {
		if entry.NodeRef == nodeRef && strings.EqualFold(string(entry.Level), level) {
			return nil
		}
	}
	return fmt.Errorf("no %s log entry for node '%s' among %d entries", level, nodeRef, len(rtc.logs))
}

func (rtc *RunTestContext) theRunLogTimestampsShouldBeStrictlyIncreasing() error {
	if len(rtc.logs) == 0 {
		return fmt.Errorf("run log is empty")
	}
	for i := 1; i < len(rtc.logs); i++ {
		if !rtc.logs[i].Timestamp.After(rtc.logs[i-1].Timestamp) {
			return fmt.Errorf("log entry %d (%s) is not after entry %d (%s)",
				i, rtc.logs[i].Timestamp, i-1, rtc.logs[i-1].Timestamp)
		}
	}
	return nil
}

func (rtc *RunTestContext) jobsShouldHaveBeenQueued(n int) error {
	if got := len(rtc.jobs.Jobs()); got != n {
		return fmt.Errorf("%d jobs were queued, but expected %d", got, n)
	}
	return nil
}
