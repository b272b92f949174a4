package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"netops-flow/jobs"
	"netops-flow/shared"
)

// ExecutorOptions tunes how runs are executed
type ExecutorOptions struct {
	// NodeTimeout bounds a single handler invocation. Zero means no limit.
	NodeTimeout time.Duration
	// RejectNoEntryPoint fails a run whose graph has no indegree-0 node
	// instead of skipping every node.
	RejectNoEntryPoint bool
	Clock              func() time.Time
}

// Executor drives runs of workflow graphs to a terminal status
type Executor struct {
	store     RunStore
	jobs      jobs.JobService
	evaluator *ConditionEvaluator
	opts      ExecutorOptions
	logger    *zap.Logger
}

// NewExecutor creates an executor. jobService may be nil when every service
// node simulates.
func NewExecutor(store RunStore, jobService jobs.JobService, logger *zap.Logger, opts ExecutorOptions) *Executor {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Executor{
		store:     store,
		jobs:      jobService,
		evaluator: NewConditionEvaluator(logger),
		opts:      opts,
		logger:    logger,
	}
}

// Execute runs a queued run to completion and returns its terminal status.
// Runs that already finished (including cancelled ones) are returned as-is,
// and a run an earlier attempt left running is failed without executing it again.
// A returned error means the store could not be read or written; node
// failures are reported through the run status and its log.
func (x *Executor) Execute(ctx context.Context, runID int64) (shared.RunResult, error) {
	run, err := x.store.GetRun(ctx, runID)
	if err != nil {
		return shared.RunResult{RunID: runID}, fmt.Errorf("load run %d: %w", runID, err)
	}
	if run.Status == shared.RunStatusRunning {
		return x.recoverInterrupted(ctx, run)
	}
	if run.Status != shared.RunStatusQueued {
		x.logger.Info("Run is not queued, nothing to execute",
			zap.Int64("runID", run.ID),
			zap.String("status", string(run.Status)))
		return shared.RunResult{RunID: run.ID, Status: run.Status}, nil
	}

	wf, err := x.store.GetWorkflow(ctx, run.WorkflowID, run.WorkflowVersion)
	if err != nil {
		return shared.RunResult{RunID: run.ID, Status: run.Status},
			fmt.Errorf("load workflow %d version %d: %w", run.WorkflowID, run.WorkflowVersion, err)
	}
	if run.WorkflowVersion == 0 {
		run.WorkflowVersion = wf.Version
	}

	return newDAGEngine(x, run, wf).execute(ctx)
}

// recoverInterrupted finalizes a run whose attempt stopped before its final
// write: steps still queued are skipped, steps still running are failed, and
// the run fails. Node handlers are not invoked again.
func (x *Executor) recoverInterrupted(ctx context.Context, run *shared.Run) (shared.RunResult, error) {
	storeCtx := context.WithoutCancel(ctx)
	logger := x.logger.With(zap.Int64("runID", run.ID))

	steps, err := x.store.ListSteps(storeCtx, run.ID)
	if err != nil {
		return shared.RunResult{RunID: run.ID, Status: run.Status}, fmt.Errorf("load steps of run %d: %w", run.ID, err)
	}
	entries, err := x.store.ListLogs(storeCtx, run.ID)
	if err != nil {
		return shared.RunResult{RunID: run.ID, Status: run.Status}, fmt.Errorf("load log of run %d: %w", run.ID, err)
	}

	journal := newRunJournal(x.store, run.ID, logger, x.opts.Clock)
	journal.resume(entries)
	for i := range steps {
		step := &steps[i]
		switch step.Status {
		case shared.StepStatusQueued:
			journal.transition(storeCtx, step, shared.StepStatusSkipped)
		case shared.StepStatusRunning:
			step.Error = "interrupted before completion"
			journal.transition(storeCtx, step, shared.StepStatusFailed)
			journal.log(storeCtx, shared.LogLevelError, step.NodeRef, "Node failed: "+step.Error, nil)
		}
	}

	run.Status = shared.RunStatusFailed
	run.Error = "run was interrupted before reaching a terminal status"
	run.FinishedAt = x.opts.Clock().UTC()
	journal.log(storeCtx, shared.LogLevelError, "", "Run failed: "+run.Error, nil)
	logger.Warn("Recovered interrupted run", zap.Int("steps", len(steps)))

	result := shared.RunResult{RunID: run.ID, Status: run.Status}
	if err := x.persistRun(storeCtx, run, journal, logger); err != nil {
		return result, fmt.Errorf("fail interrupted run %d: %w", run.ID, err)
	}
	if journal.err != nil {
		return result, fmt.Errorf("run %d journal: %w", run.ID, journal.err)
	}
	return result, nil
}

// persistRun writes a terminal run. When the full record cannot be stored the
// run is written again as failed, without its outputs and context.
func (x *Executor) persistRun(ctx context.Context, run *shared.Run, journal *runJournal, logger *zap.Logger) error {
	err := x.store.UpdateRun(ctx, run)
	if err == nil {
		return nil
	}
	logger.Error("Run record could not be persisted, storing it as failed", zap.Error(err))

	run.Status = shared.RunStatusFailed
	run.Error = "persist run result: " + err.Error()
	run.Outputs = nil
	run.Context = nil
	if retryErr := x.store.UpdateRun(ctx, run); retryErr != nil {
		return errors.Join(err, retryErr)
	}
	journal.log(ctx, shared.LogLevelError, "", "Run failed: "+run.Error, nil)
	return nil
}

// dagEngine holds the mutable state of a single run
type dagEngine struct {
	x        *Executor
	run      *shared.Run
	workflow *shared.Workflow
	graph    *Graph
	deps     *DependencyManager
	steps    map[string]*shared.Step
	context  map[string]interface{}
	last     map[string]interface{}
	outputs  map[string]interface{}
	journal  *runJournal
	metrics  *RunMetrics
	logger   *zap.Logger
}

func newDAGEngine(x *Executor, run *shared.Run, wf *shared.Workflow) *dagEngine {
	logger := x.logger.With(zap.Int64("runID", run.ID), zap.Int64("workflowID", wf.ID))
	return &dagEngine{
		x:        x,
		run:      run,
		workflow: wf,
		graph:    NewGraph(wf),
		steps:    make(map[string]*shared.Step, len(wf.Nodes)),
		outputs:  make(map[string]interface{}),
		journal:  newRunJournal(x.store, run.ID, logger, x.opts.Clock),
		logger:   logger,
	}
}

func (e *dagEngine) execute(ctx context.Context) (shared.RunResult, error) {
	// Persistence outlives caller cancellation so the run always reaches a terminal record.
	storeCtx := context.WithoutCancel(ctx)

	if err := e.graph.Validate(); err != nil {
		return e.abort(storeCtx, err, map[string]interface{}{"workflow_version": e.run.WorkflowVersion})
	}

	entryPoints := e.graph.EntryPoints()
	if len(entryPoints) == 0 && len(e.graph.Nodes()) > 0 && e.x.opts.RejectNoEntryPoint {
		return e.abort(storeCtx, errors.New("no entry point: every node has an incoming edge"), nil)
	}

	if !e.workflow.IsActive {
		e.journal.log(storeCtx, shared.LogLevelWarn, "", "Workflow is inactive", map[string]interface{}{"workflow_id": e.workflow.ID})
	}

	e.start()
	if err := e.x.store.UpdateRun(storeCtx, e.run); err != nil {
		return e.abort(storeCtx, fmt.Errorf("mark run running: %w", err), nil)
	}
	e.journal.log(storeCtx, shared.LogLevelInfo, "", "Run started", map[string]interface{}{
		"workflow_id":      e.workflow.ID,
		"workflow_version": e.run.WorkflowVersion,
		"nodes":            len(e.graph.Nodes()),
	})

	if err := e.createSteps(storeCtx); err != nil {
		_, _ = e.abort(storeCtx, err, nil)
		return e.result(), fmt.Errorf("create steps for run %d: %w", e.run.ID, err)
	}

	e.deps = NewDependencyManager(e.graph, e.logger)
	if seeded := e.deps.SeedEntryPoints(entryPoints); seeded == 0 && len(e.graph.Nodes()) > 0 {
		e.journal.log(storeCtx, shared.LogLevelWarn, "", "No entry point: every node has an incoming edge", nil)
	}

	for {
		ref, ok := e.deps.Next()
		if !ok {
			break
		}
		e.processNode(ctx, storeCtx, ref)
	}

	e.sweepUnreached(storeCtx)
	return e.finish(storeCtx)
}

func (e *dagEngine) start() {
	now := e.x.opts.Clock().UTC()
	e.metrics = NewRunMetrics(len(e.graph.Nodes()), now)

	e.context = shared.CloneMap(e.run.Context)
	if e.context == nil {
		e.context = make(map[string]interface{}, len(e.run.Inputs))
	}
	for k, v := range e.run.Inputs {
		if _, exists := e.context[k]; !exists {
			e.context[k] = v
		}
	}

	e.run.Status = shared.RunStatusRunning
	e.run.StartedAt = now
	e.run.Context = shared.CloneMap(e.context)
}

func (e *dagEngine) createSteps(ctx context.Context) error {
	steps := make([]*shared.Step, 0, len(e.graph.Nodes()))
	for _, n := range e.graph.Nodes() {
		step := &shared.Step{RunID: e.run.ID, NodeRef: n.Ref, Status: shared.StepStatusQueued}
		steps = append(steps, step)
		e.steps[n.Ref] = step
	}
	if len(steps) == 0 {
		return nil
	}
	return e.x.store.CreateSteps(ctx, steps)
}

// processNode executes one ready node and routes along its outgoing edges
func (e *dagEngine) processNode(ctx, storeCtx context.Context, ref string) {
	node, _ := e.graph.Node(ref)
	step := e.steps[ref]
	if !e.journal.transition(storeCtx, step, shared.StepStatusRunning) {
		return
	}
	e.metrics.RecordNodeStart(ref)
	e.logger.Info("Processing node",
		zap.String("nodeRef", ref),
		zap.String("category", string(node.Category)),
		zap.String("type", node.Type))

	started := e.x.opts.Clock()
	result, err := e.invoke(ctx, storeCtx, node)
	elapsed := e.x.opts.Clock().Sub(started)

	if err != nil {
		step.Error = err.Error()
		e.journal.transition(storeCtx, step, shared.StepStatusFailed)
		e.metrics.RecordNodeFailed(ref, elapsed, errors.Is(err, context.DeadlineExceeded))
		e.journal.log(storeCtx, shared.LogLevelError, ref, "Node failed: "+err.Error(), nil)
		e.logger.Error("Node failed", zap.String("nodeRef", ref), zap.Error(err))
		return
	}

	output := result.Output
	if output == nil {
		output = map[string]interface{}{}
	}

	step.Output = output
	e.journal.transition(storeCtx, step, shared.StepStatusSuccess)
	if step.Status != shared.StepStatusSuccess {
		e.metrics.RecordNodeFailed(ref, elapsed, false)
		e.journal.log(storeCtx, shared.LogLevelError, ref, "Node failed: "+step.Error, nil)
		e.logger.Error("Node result could not be stored", zap.String("nodeRef", ref), zap.String("error", step.Error))
		return
	}

	for k, v := range result.ContextDelta {
		e.context[k] = v
	}
	e.outputs[ref] = output
	e.last = output
	e.metrics.RecordNodeSuccess(ref, elapsed)
	e.journal.log(storeCtx, shared.LogLevelInfo, ref, "Node completed", map[string]interface{}{
		"duration_ms": elapsed.Milliseconds(),
	})

	e.routeOutgoing(storeCtx, node, output)
}

// invoke binds the node to its handler and executes it under the node timeout.
// Every failure comes back as *NodeExecutionError.
func (e *dagEngine) invoke(ctx, storeCtx context.Context, node shared.Node) (result NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nodeError(node.Ref, "handler panic: %v", r)
		}
		var nodeErr *NodeExecutionError
		if err != nil && !errors.As(err, &nodeErr) {
			err = &NodeExecutionError{NodeRef: node.Ref, Err: err}
		}
	}()

	handler, err := BindNode(node)
	if err != nil {
		return NodeResult{}, err
	}

	nodeCtx := ctx
	if e.x.opts.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.x.opts.NodeTimeout)
		defer cancel()
	}

	env := &NodeEnv{
		RunID:     e.run.ID,
		TenantID:  e.run.TenantID,
		Actor:     e.run.TriggeredBy,
		Context:   shared.CloneMap(e.context),
		Last:      shared.CloneMap(e.last),
		Evaluator: e.x.evaluator,
		Jobs:      e.x.jobs,
		Record: func(level shared.LogLevel, message string, fields map[string]interface{}) {
			e.journal.log(storeCtx, level, node.Ref, message, fields)
		},
	}
	return handler.Execute(nodeCtx, env)
}

func (e *dagEngine) routeOutgoing(ctx context.Context, source shared.Node, output map[string]interface{}) {
	for _, edge := range e.graph.Outgoing(source.Ref) {
		traverse, reason := e.shouldTraverse(ctx, edge, output)
		if !traverse {
			e.journal.log(ctx, shared.LogLevelDebug, source.Ref,
				fmt.Sprintf("Edge %s -> %s not traversed: %s", edge.SourceRef, edge.TargetRef, reason), nil)
			continue
		}
		if e.deps.Release(edge.TargetRef, source.Ref) {
			e.logger.Debug("Node ready", zap.String("nodeRef", edge.TargetRef))
		}
	}
}

// shouldTraverse decides whether an edge out of a succeeded node is followed.
// An explicit condition wins; otherwise a boolean "condition" in the output
// is matched against the edge label; otherwise the edge is followed.
func (e *dagEngine) shouldTraverse(ctx context.Context, edge shared.Edge, output map[string]interface{}) (bool, string) {
	if strings.TrimSpace(edge.Condition) != "" {
		ok, err := e.x.evaluator.EvaluateBool(edge.Condition, e.context, output)
		if err != nil {
			e.journal.log(ctx, shared.LogLevelError, edge.SourceRef, "Edge condition failed: "+err.Error(), map[string]interface{}{
				"target_ref": edge.TargetRef,
				"condition":  edge.Condition,
			})
			return false, "condition could not be evaluated"
		}
		return ok, "condition is false"
	}

	if cond, ok := output["condition"].(bool); ok {
		label := strings.TrimSpace(edge.Label)
		if label == "" {
			return cond, "condition is false"
		}
		return strings.EqualFold(label, strconv.FormatBool(cond)), fmt.Sprintf("label %q does not match %t", label, cond)
	}
	return true, ""
}

// sweepUnreached marks every step still queued as skipped
func (e *dagEngine) sweepUnreached(ctx context.Context) {
	for _, n := range e.graph.Nodes() {
		step := e.steps[n.Ref]
		if step.Status != shared.StepStatusQueued {
			continue
		}
		e.journal.transition(ctx, step, shared.StepStatusSkipped)
		e.metrics.RecordNodeSkipped(n.Ref)
		e.journal.log(ctx, shared.LogLevelWarn, n.Ref, "Node skipped: not reached", nil)
	}
}

func (e *dagEngine) finish(ctx context.Context) (shared.RunResult, error) {
	status := shared.RunStatusSuccess
	for _, step := range e.steps {
		if step.Status == shared.StepStatusFailed {
			status = shared.RunStatusFailed
			break
		}
		if step.Status == shared.StepStatusSkipped {
			status = shared.RunStatusPartial
		}
	}

	now := e.x.opts.Clock().UTC()
	e.run.Status = status
	e.run.Outputs = e.outputs
	e.run.Context = e.context
	e.run.FinishedAt = now

	level, metricsLevel := shared.LogLevelInfo, "info"
	switch status {
	case shared.RunStatusFailed:
		level, metricsLevel = shared.LogLevelError, "error"
	case shared.RunStatusPartial:
		level, metricsLevel = shared.LogLevelWarn, "warn"
	}
	e.journal.log(ctx, level, "", "Run finished with status "+string(status), nil)

	e.metrics.Finish(now)
	e.metrics.LogMetrics(e.logger, e.run.ID, metricsLevel)

	if err := e.x.persistRun(ctx, e.run, e.journal, e.logger); err != nil {
		return e.result(), fmt.Errorf("finalize run %d: %w", e.run.ID, err)
	}
	if e.journal.err != nil {
		return e.result(), fmt.Errorf("run %d journal: %w", e.run.ID, e.journal.err)
	}
	return e.result(), nil
}

// abort fails the run before or while steps are created
func (e *dagEngine) abort(ctx context.Context, cause error, fields map[string]interface{}) (shared.RunResult, error) {
	now := e.x.opts.Clock().UTC()
	e.run.Status = shared.RunStatusFailed
	e.run.Error = cause.Error()
	if e.run.StartedAt.IsZero() {
		e.run.StartedAt = now
	}
	e.run.FinishedAt = now

	e.journal.log(ctx, shared.LogLevelError, "", "Run failed: "+cause.Error(), fields)
	e.logger.Error("Run failed before execution", zap.Error(cause))

	if err := e.x.persistRun(ctx, e.run, e.journal, e.logger); err != nil {
		return e.result(), fmt.Errorf("fail run %d: %w", e.run.ID, err)
	}
	if e.journal.err != nil {
		return e.result(), fmt.Errorf("run %d journal: %w", e.run.ID, e.journal.err)
	}
	return e.result(), nil
}

func (e *dagEngine) result() shared.RunResult {
	return shared.RunResult{RunID: e.run.ID, Status: e.run.Status}
}
