package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run that has not started yet",
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

		if err := st.CancelRun(cmd.Context(), runID); err != nil {
			return err
		}
		logger.Info("Run cancelled", zap.Int64("runID", runID))
		fmt.Fprintf(cmd.OutOrStdout(), "run %d cancelled\n", runID)
		return nil
	},
}
