package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewIngestCommand constructs the `ingest` command: hand one observed
// event to the agent for dedup, filtering, and spooling.
func NewIngestCommand(baseURL BaseURLFunc) *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit an observed event to the agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			origin, _ := cmd.Flags().GetString("origin")
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			at, _ := cmd.Flags().GetString("at")
			rawExtra, _ := cmd.Flags().GetStringArray("extra")

			atMs, err := parseAtMs(at)
			if err != nil {
				return err
			}
			extra, err := parseKeyValues("extra", rawExtra)
			if err != nil {
				return err
			}
			payload := map[string]any{
				"source":       source,
				"origin":       origin,
				"title":        title,
				"body":         body,
				"observedAtMs": atMs,
			}
			if len(extra) > 0 {
				payload["extra"] = extra
			}
			if _, err := postJSON(baseURL()+"/v1/ingest", payload); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "queued")
			return nil
		},
	}
	ingestCmd.Flags().StringP("source", "s", "", "Source pipeline (e.g. sms)")
	ingestCmd.Flags().String("origin", "", "Origin key (sender, app id)")
	ingestCmd.Flags().String("title", "", "Event title")
	ingestCmd.Flags().String("body", "", "Event body")
	ingestCmd.Flags().String("at", "", "Observed-at timestamp: RFC3339 or ms (default now)")
	ingestCmd.Flags().StringArray("extra", nil, "Extra metadata key=value (repeatable)")
	_ = ingestCmd.MarkFlagRequired("source")
	return ingestCmd
}
