package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"netops-flow/config"
	"netops-flow/logging"
	"netops-flow/store"
	"netops-flow/workflow"
)

var (
	configPath string
	envFile    string
	logLevel   string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "netops-flow",
	Short: "Workflow execution engine for network automation",
	Long: `netops-flow executes workflow graphs of service, logic, data and
notification nodes. Runs are persisted with their per-node steps and an
audit log, and can be executed in process or by a Temporal worker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{ConfigFile: configPath, EnvFile: envFile})
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}

		l, err := logging.New(loaded.Log.Level, loaded.Log.Format)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command until it returns or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: netops-flow.yaml in . or ./config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(workerCmd, runCmd, validateCmd, cancelCmd, logsCmd)
}

func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	return store.OpenSQLite(ctx, cfg.Database.Path, logger)
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", cfg.Temporal.HostPort, err)
	}
	return c, nil
}

func executorOptions() workflow.ExecutorOptions {
	return workflow.ExecutorOptions{
		NodeTimeout:        cfg.Engine.NodeTimeout,
		RejectNoEntryPoint: cfg.Engine.RejectNoEntryPoint,
	}
}
