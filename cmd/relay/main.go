package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientcmd "github.com/odesys/relay/internal/cmd/client"
	serverrun "github.com/odesys/relay/internal/cmd/server"
	logpkg "github.com/odesys/relay/pkg/log"
	"github.com/spf13/cobra"
)

// version is stamped at release time via -ldflags.
var version = "dev"

func main() {
	// initialize logger for CLI
	// Respect RELAY_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay agent CLI",
		Long:  "Relay spools observed device events and uploads them in batches. This CLI runs the agent and talks to its control API.",
	}

	var apiFlag string
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Control API base URL (default $RELAY_API or http://127.0.0.1:7450)")
	apiURL := func() string {
		if apiFlag != "" {
			return apiFlag
		}
		if v := os.Getenv("RELAY_API"); v != "" {
			return v
		}
		return "http://127.0.0.1:7450"
	}

	// server
	serverCmd := &cobra.Command{
		Use:     "server",
		Short:   "Run the relay agent (spool pipelines and control API)",
		Aliases: []string{"start", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			collector, _ := cmd.Flags().GetString("collector")
			deviceID, _ := cmd.Flags().GetString("device-id")
			fsync, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if logLevel != "" {
				_ = os.Setenv("RELAY_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("RELAY_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				ConfigPath:   configPath,
				DataDir:      dataDir,
				HTTPAddr:     httpAddr,
				CollectorURL: collector,
				DeviceID:     deviceID,
				Fsync:        fsync,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverCmd.Flags().String("config", os.Getenv("RELAY_CONFIG"), "Config file, JSON or YAML (default $RELAY_CONFIG)")
	serverCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverCmd.Flags().String("http", "", "Control API listen address (default 127.0.0.1:7450)")
	serverCmd.Flags().String("collector", "", "Collector base URL events are uploaded to")
	serverCmd.Flags().String("device-id", "", "Override the persisted device identity")
	serverCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverCmd.Flags().String("log-level", os.Getenv("RELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverCmd.Flags().String("log-format", os.Getenv("RELAY_LOG_FORMAT"), "Log format: text|json (default text)")
	rootCmd.AddCommand(serverCmd)

	// client commands against a running agent
	rootCmd.AddCommand(clientcmd.NewIngestCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewFlushCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewModeCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewStatusCommand(apiURL))

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relay", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
