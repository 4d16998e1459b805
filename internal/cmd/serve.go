package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gojobs/internal/config"
	"github.com/3leaps/gojobs/internal/observability"
	"github.com/3leaps/gojobs/internal/server"
	"github.com/3leaps/gojobs/internal/server/handlers"
	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API over HTTP",
	Long: `Serve job records from the configured store over HTTP.

Routes:
  GET  /jobs/{id}         latest record
  GET  /jobs/{id}/wait    block until the job finishes (?timeout=30s)
  POST /jobs              run a command job (only with server.allow_exec)
  GET  /health[/live|/ready|/startup]
  GET  /metrics           Prometheus metrics (metrics.enabled)
  GET  /version`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().Bool("allow-exec", false, "Enable POST /jobs (overrides server.allow_exec)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := *appConfig
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("allow-exec") {
		cfg.Server.AllowExec, _ = cmd.Flags().GetBool("allow-exec")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --port value", fmt.Errorf("port %d out of range", cfg.Server.Port))
	}

	logger := observability.CLILogger
	backend, cleanup, err := openBackend(ctx, &cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer cleanup()

	store := execjob.NewStore(backend)
	reader := handlers.NewJobReader[execjob.Output, execjob.Error, execjob.Metadata, execjob.Status](store, execjob.Model, cfg.Engine.PollInterval)

	if cfg.Health.Enabled {
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", handlers.StoreChecker{Reader: reader})
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: config.AppName,
			envPrefix:  config.EnvPrefix,
			configName: config.AppName,
		})
		hm.RegisterChecker("signal", signalHealthChecker{})
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithJobs(reader, cfg.Server.MaxWait),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewCollector(reg)
		opts = append(opts, server.WithMetrics(metrics.Handler(reg)))
	}

	var engine *execjob.Engine
	if cfg.Server.AllowExec {
		engineOpts, closeEvents, err := engineOptions(&cfg, logger)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open event log", err)
		}
		defer closeEvents()
		if collector != nil {
			engineOpts = append(engineOpts, job.WithObserver(collector), job.WithFailureSink(collector))
		}
		engine = execjob.NewEngine(store, engineOpts...)
		executor := execjob.NewExecutor(logRoot(&cfg), logger)
		opts = append(opts, server.WithSubmitter(handlers.NewExecSubmitter(executor, engine)))
		logger.Warn("Command execution enabled on POST /jobs")
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)
	serveErr := srv.Start(ctx)

	if engine != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := engine.Drain(drainCtx); err != nil {
			logger.Warn("Jobs still running at shutdown", zap.Error(err))
		}
	}

	if serveErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", serveErr)
	}
	return nil
}

// signalHealthChecker is healthy while the process is serving.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

// identityHealthChecker verifies the application identity constants the
// config loader depends on.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}
