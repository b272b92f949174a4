package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"netops-flow/jobs"
	"netops-flow/shared"
	"netops-flow/store"
	"netops-flow/workflow"
)

var runFlags struct {
	inputs     []string
	actor      string
	workflowID int64
	temporal   bool
	wait       bool
	dry        bool
}

var runCmd = &cobra.Command{
	Use:   "run <definition.yaml>",
	Short: "Save a workflow definition and execute a run of it",
	Long: `run validates and saves the definition as a new workflow version, queues a
run with the definition's inputs (overridden by --input), and executes it.

By default the run executes in this process. With --temporal it is handed to
the worker through ExecuteRunWorkflow instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		def, err := workflow.LoadDefinition(args[0])
		if err != nil {
			return err
		}
		if err := workflow.ValidateDefinition(&def.Workflow, workflow.ValidationOptions{}); err != nil {
			return fmt.Errorf("invalid workflow %s:\n%w", args[0], err)
		}
		inputs, err := mergeInputs(def.Inputs, runFlags.inputs)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		wf := def.Workflow
		wf.ID = runFlags.workflowID
		if err := st.SaveWorkflow(ctx, &wf); err != nil {
			return err
		}
		run := &shared.Run{
			WorkflowID:      wf.ID,
			WorkflowVersion: wf.Version,
			TenantID:        wf.TenantID,
			TriggeredBy:     runFlags.actor,
			Inputs:          inputs,
		}
		if err := st.CreateRun(ctx, run); err != nil {
			return err
		}
		logger.Info("Run queued",
			zap.Int64("runID", run.ID),
			zap.Int64("workflowID", wf.ID),
			zap.Int("workflowVersion", wf.Version))

		if runFlags.temporal {
			return dispatchRun(ctx, cmd.OutOrStdout(), st, run.ID)
		}
		return executeInProcess(ctx, cmd.OutOrStdout(), st, run.ID)
	},
}

func init() {
	runCmd.Flags().StringArrayVarP(&runFlags.inputs, "input", "i", nil, "run input as key=value; the value is parsed as YAML")
	runCmd.Flags().StringVar(&runFlags.actor, "actor", os.Getenv("USER"), "identity recorded as the run's trigger and forwarded to jobs")
	runCmd.Flags().Int64Var(&runFlags.workflowID, "workflow-id", 0, "save as a new version of this workflow instead of a new workflow")
	runCmd.Flags().BoolVar(&runFlags.temporal, "temporal", false, "hand the run to a Temporal worker instead of executing it here")
	runCmd.Flags().BoolVar(&runFlags.wait, "wait", true, "with --temporal, wait for the run to finish")
	runCmd.Flags().BoolVar(&runFlags.dry, "dry", false, "queue service jobs in memory instead of dispatching them to the fleet")
}

// mergeInputs overlays key=value pairs on the definition's inputs
func mergeInputs(base map[string]interface{}, pairs []string) (map[string]interface{}, error) {
	inputs := shared.CloneMap(base)
	if inputs == nil {
		inputs = make(map[string]interface{}, len(pairs))
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", pair)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid --input %q: %w", pair, err)
		}
		inputs[strings.TrimSpace(key)] = value
	}
	return inputs, nil
}

func executeInProcess(ctx context.Context, out io.Writer, st *store.SQLiteStore, runID int64) error {
	var jobService jobs.JobService
	if runFlags.dry {
		jobService = jobs.NewInMemoryJobService(logger)
	} else {
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()
		jobService = jobs.NewTemporalJobService(st, c, cfg.Temporal.JobTaskQueue, logger)
	}

	result, err := workflow.NewExecutor(st, jobService, logger, executorOptions()).Execute(ctx, runID)
	if err != nil {
		return err
	}
	return printRun(ctx, out, st, result)
}

func dispatchRun(ctx context.Context, out io.Writer, st *store.SQLiteStore, runID int64) error {
	c, err := dialTemporal()
	if err != nil {
		return err
	}
	defer c.Close()

	options := client.StartWorkflowOptions{
		ID:        workflow.NewRunWorkflowID(runID),
		TaskQueue: cfg.Temporal.TaskQueue,
	}
	we, err := c.ExecuteWorkflow(ctx, options, workflow.ExecuteRunWorkflow, workflow.RunWorkflowInput{
		RunID:   runID,
		Timeout: cfg.Temporal.RunTimeout,
	})
	if err != nil {
		return fmt.Errorf("start run workflow: %w", err)
	}
	logger.Info("Run workflow started",
		zap.Int64("runID", runID),
		zap.String("workflowID", we.GetID()),
		zap.String("temporalRunID", we.GetRunID()))

	if !runFlags.wait {
		fmt.Fprintf(out, "run %d dispatched as %s\n", runID, we.GetID())
		return nil
	}

	var result shared.RunResult
	if err := we.Get(ctx, &result); err != nil {
		return fmt.Errorf("run workflow %s: %w", we.GetID(), err)
	}
	return printRun(ctx, out, st, result)
}
