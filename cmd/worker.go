package cmd

import (
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"netops-flow/activities"
	"netops-flow/jobs"
	"netops-flow/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker that executes queued runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		jobService := jobs.NewTemporalJobService(st, c, cfg.Temporal.JobTaskQueue, logger)
		runActivities := &activities.RunActivities{
			Executor: workflow.NewExecutor(st, jobService, logger, executorOptions()),
		}

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
		w.RegisterWorkflow(workflow.ExecuteRunWorkflow)
		w.RegisterActivityWithOptions(runActivities.ExecuteRun, activity.RegisterOptions{Name: workflow.ExecuteRunActivityName})

		logger.Info("Starting worker",
			zap.String("taskQueue", cfg.Temporal.TaskQueue),
			zap.String("jobTaskQueue", cfg.Temporal.JobTaskQueue),
			zap.String("database", cfg.Database.Path))

		// Blocks until the worker is stopped or an interrupt arrives
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("Worker run failed", zap.Error(err))
			return err
		}
		logger.Info("Worker stopped")
		return nil
	},
}
