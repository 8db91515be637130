package client

import (
	"net/url"

	"github.com/spf13/cobra"
)

// NewStatusCommand constructs the `status` command: report queue sizes,
// modes, and scheduler states for one source or all of them.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			target := baseURL() + "/v1/status"
			if source != "" {
				target += "?source=" + url.QueryEscape(source)
			}
			data, err := getJSON(target)
			if err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
	statusCmd.Flags().StringP("source", "s", "", "Source pipeline; empty shows all")
	return statusCmd
}
