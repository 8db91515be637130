package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewFlushCommand constructs the `flush` command: ask the agent to run an
// upload pass now instead of waiting for the timer or threshold.
func NewFlushCommand(baseURL BaseURLFunc) *cobra.Command {
	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Trigger an upload pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			force, _ := cmd.Flags().GetBool("force")
			payload := map[string]any{"source": source, "force": force}
			if _, err := postJSON(baseURL()+"/v1/flush", payload); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "flushing")
			return nil
		},
	}
	flushCmd.Flags().StringP("source", "s", "", "Source pipeline; empty flushes all")
	flushCmd.Flags().Bool("force", false, "Interrupt an in-progress pass and start over")
	return flushCmd
}
