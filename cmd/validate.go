package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"netops-flow/workflow"
)

var rejectCycles bool

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>",
	Short: "Check a workflow definition without saving or running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := workflow.LoadDefinition(args[0])
		if err != nil {
			return err
		}
		if err := workflow.ValidateDefinition(&def.Workflow, workflow.ValidationOptions{RejectCycles: rejectCycles}); err != nil {
			return fmt.Errorf("%s is invalid:\n%w", args[0], err)
		}

		g := workflow.NewGraph(&def.Workflow)
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d nodes, %d edges, entry points %v\n",
			args[0], len(g.Nodes()), len(g.Edges()), g.EntryPoints())
		if cycle := g.FindCycle(); cycle != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: nodes on a cycle will be skipped: %v\n", cycle)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&rejectCycles, "reject-cycles", false, "treat a directed cycle as an error")
}
