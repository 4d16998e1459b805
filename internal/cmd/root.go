// Package cmd implements the gojobs command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gojobs/internal/config"
	"github.com/3leaps/gojobs/internal/observability"
	"github.com/3leaps/gojobs/internal/server/handlers"
)

type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	rootConfigPath string
	rootEnvFile    string
	rootLogLevel   string
	rootLogProfile string
	rootBackend    string

	// appConfig is loaded by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gojobs",
	Short: "Run and track asynchronous jobs",
	Long: `gojobs runs commands as tracked jobs and persists every job's lifecycle
(status, result, metadata) to a pluggable store: local files, SQLite or
libsql, Postgres, S3 or Redis.

Any process that can read the store can inspect a job with 'gojobs status'
or block until it finishes with 'gojobs wait'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRootConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootConfigPath, "config", "", "Config file (default $XDG_CONFIG_HOME/gojobs/config.yaml)")
	pf.StringVar(&rootEnvFile, "env-file", "", "Load environment variables from this file before reading config")
	pf.StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootLogProfile, "log-profile", "", "Log profile: structured or console")
	pf.StringVar(&rootBackend, "backend", "", "Storage backend: fs, sqlite, postgres, s3, redis")
}

// SetVersionInfo records build information for 'gojobs version' and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = buildInfo{Version: version, Commit: commit, BuildDate: buildDate}
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the root command with SIGINT and SIGTERM cancelling the
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	if rootEnvFile != "" {
		if err := config.LoadEnvFile(rootEnvFile); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --env-file", err)
		}
	}
	config.SetConfigFile(rootConfigPath)

	cfg, err := config.Load(cmd.Context(), rootOverrides())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	appConfig = cfg
	return nil
}

func rootOverrides() map[string]any {
	overrides := map[string]any{}
	logging := map[string]any{}
	if s := strings.TrimSpace(rootLogLevel); s != "" {
		logging["level"] = s
	}
	if s := strings.TrimSpace(rootLogProfile); s != "" {
		logging["profile"] = s
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}
	if s := strings.TrimSpace(rootBackend); s != "" {
		overrides["storage"] = map[string]any{"backend": s}
	}
	return overrides
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
