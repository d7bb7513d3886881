// Package cmd wires the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the top-level command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rlm-engine",
		Short:         "Recursive language model execution engine",
		Long:          "rlm-engine runs LM-generated programs in a sandbox, servicing their recursive llm_query calls and exposing the execution tree over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
