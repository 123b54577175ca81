package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/runnersync/runnersync/internal/provision"
	"github.com/runnersync/runnersync/pkg/log"
	"github.com/runnersync/runnersync/pkg/metrics"
)

// Build information (set from main.go)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	prefix         string
	coordinatorURL string
	stateless      bool
	pushgatewayURL string
	logLevel       string
	logFormat      string
)

// rootCmd represents the base command. Running it without a subcommand
// performs a sync, so a bare `runnersync` works from cron or a systemd
// ExecStartPre line.
var rootCmd = &cobra.Command{
	Use:   "runnersync",
	Short: "Reconcile CI runner registrations and write the runner agent config",
	Long: `runnersync reconciles the executors declared on this host against a
CI coordinator, making sure each one holds a valid registration token,
and renders the configuration file the runner agent consumes.

The prefix directory holds everything a run needs:
  runnersync.yaml    instance config: endpoints and their secrets
  executors/         one TOML declaration per executor
  config.template    optional agent config template
  config.toml        rendered agent configuration (output)
  runner-data.json   registration snapshot from the previous run

Environment variables:
  RUNNERSYNC_PREFIX       Config directory (default: /etc/runnersync)
  RUNNERSYNC_INSTANCE     Instance name override
  RUNNERSYNC_ENV_TAGS     Comma-separated env tag name override
  RUNNERSYNC_TAG_SCHEMA   Tag schema path override`,
	RunE:          runSync,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	RunE:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("runnersync\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := log.New(logLevel, logFormat).
		With().Str("run_id", uuid.NewString()).Logger()

	p := provision.New(provision.Options{
		Prefix:         prefix,
		CoordinatorURL: coordinatorURL,
		Stateless:      stateless,
		PushgatewayURL: pushgatewayURL,
	}, metrics.New(), logger)

	if err := p.Run(cmd.Context()); err != nil {
		logger.Error().Err(err).Msg("reconciliation failed")
		return err
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&prefix, "prefix", "p",
		envOr("RUNNERSYNC_PREFIX", "/etc/runnersync"), "Configuration directory prefix")
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator-url",
		os.Getenv("RUNNERSYNC_COORDINATOR_URL"), "Default coordinator URL for declarations without one")
	rootCmd.PersistentFlags().BoolVar(&stateless, "stateless", false,
		"Skip the snapshot and always query the coordinator for state")
	rootCmd.PersistentFlags().StringVar(&pushgatewayURL, "pushgateway-url",
		os.Getenv("RUNNERSYNC_PUSHGATEWAY_URL"), "Prometheus Pushgateway to receive run metrics")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		envOr("RUNNERSYNC_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format",
		envOr("RUNNERSYNC_LOG_FORMAT", "console"), "Log format: console, json")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}
