package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewModeCommand constructs the `mode` command group for switching a
// source between BATCH and REALTIME delivery.
func NewModeCommand(baseURL BaseURLFunc) *cobra.Command {
	modeCmd := &cobra.Command{Use: "mode", Short: "Delivery mode operations"}
	modeCmd.AddCommand(newModeRealtimeCommand(baseURL), newModeBatchCommand(baseURL))
	return modeCmd
}

func newModeRealtimeCommand(baseURL BaseURLFunc) *cobra.Command {
	rtCmd := &cobra.Command{
		Use:   "realtime",
		Short: "Switch a source to realtime delivery for a window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			window, _ := cmd.Flags().GetDuration("for")
			if window < 0 {
				return fmt.Errorf("invalid --for; duration must not be negative")
			}
			payload := map[string]any{"source": source, "durationMs": window.Milliseconds()}
			data, err := postJSON(baseURL()+"/v1/mode/realtime", payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
	rtCmd.Flags().StringP("source", "s", "", "Source pipeline")
	rtCmd.Flags().Duration("for", time.Duration(0), "Realtime window (e.g. 90s, 5m; 0 = agent default)")
	_ = rtCmd.MarkFlagRequired("source")
	return rtCmd
}

func newModeBatchCommand(baseURL BaseURLFunc) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Switch a source back to batch delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			data, err := postJSON(baseURL()+"/v1/mode/batch", map[string]any{"source": source})
			if err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
	batchCmd.Flags().StringP("source", "s", "", "Source pipeline")
	_ = batchCmd.MarkFlagRequired("source")
	return batchCmd
}
