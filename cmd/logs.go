package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"netops-flow/shared"
)

// runReader is the read side of the store used for reporting
type runReader interface {
	GetRun(ctx context.Context, runID int64) (*shared.Run, error)
	ListSteps(ctx context.Context, runID int64) ([]shared.Step, error)
	ListLogs(ctx context.Context, runID int64) ([]shared.LogEntry, error)
}

var logsJSON bool

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Show a run's steps and audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if logsJSON {
			return writeLogsJSON(cmd.Context(), cmd.OutOrStdout(), st, runID)
		}
		run, err := st.GetRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		return printRun(cmd.Context(), cmd.OutOrStdout(), st, shared.RunResult{RunID: run.ID, Status: run.Status})
	},
}

func init() {
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "print log entries as JSON lines")
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}

// printRun writes the run summary, its steps in creation order and its log
func printRun(ctx context.Context, out io.Writer, st runReader, result shared.RunResult) error {
	run, err := st.GetRun(ctx, result.RunID)
	if err != nil {
		return err
	}
	steps, err := st.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	entries, err := st.ListLogs(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %d  workflow %d v%d  status %s\n", run.ID, run.WorkflowID, run.WorkflowVersion, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "error: %s\n", run.Error)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nNODE\tSTATUS\tDURATION\tDETAIL")
	for _, step := range steps {
		detail := step.Error
		if detail == "" && step.Output != nil {
			detail = summarize(step.Output)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", step.NodeRef, step.Status, stepDuration(step), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	for _, entry := range entries {
		node := ""
		if entry.NodeRef != "" {
			node = "[" + entry.NodeRef + "] "
		}
		fmt.Fprintf(out, "%s %-5s %s%s\n", entry.Timestamp.Format(time.RFC3339Nano), entry.Level, node, entry.Message)
	}
	return nil
}

func writeLogsJSON(ctx context.Context, out io.Writer, st runReader, runID int64) error {
	entries, err := st.ListLogs(ctx, runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func stepDuration(step shared.Step) string {
	if step.StartedAt.IsZero() || step.FinishedAt.IsZero() {
		return "-"
	}
	return step.FinishedAt.Sub(step.StartedAt).String()
}

// summarize renders an output map as sorted key=value pairs
func summarize(output map[string]interface{}) string {
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, output[k]))
	}
	return strings.Join(parts, " ")
}
