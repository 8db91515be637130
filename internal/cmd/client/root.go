package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Relay client.
// It registers the ingest, flush, mode, and status commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay client commands",
	}
	root.AddCommand(NewIngestCommand(baseURL))
	root.AddCommand(NewFlushCommand(baseURL))
	root.AddCommand(NewModeCommand(baseURL))
	root.AddCommand(NewStatusCommand(baseURL))
	return root
}
