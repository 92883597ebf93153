package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"androcompute/internal/config"
	"androcompute/internal/master/api"
	"androcompute/internal/master/coordinator"
	"androcompute/internal/master/janitor"
	"androcompute/internal/master/templates"
	"androcompute/internal/observability"
	"androcompute/pkg/store"
)

var (
	configFile        string
	host              string
	port              int
	logLevel          string
	logProfile        string
	etcdEndpoints     []string
	templatesFile     string
	sweepInterval     time.Duration
	executionDeadline time.Duration
	maxResults        int
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the AndroCompute coordinator",
	Long: `Run the coordinator: node registry, job store and the HTTP API
workers poll for assignments.

All state lives in memory and is lost on restart. When etcd endpoints are
configured, job and node snapshots are mirrored there for observers.`,
	SilenceUsage: true,
	RunE:         runCoordinator,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	f.StringVar(&host, "host", "", "Listen host")
	f.IntVar(&port, "port", 0, "Listen port")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&logProfile, "log-profile", "", "Log profile: structured or console")
	f.StringSliceVar(&etcdEndpoints, "etcd-endpoints", nil, "etcd endpoints for the event mirror (empty disables it)")
	f.StringVar(&templatesFile, "templates", "", "YAML file with extra job templates")
	f.DurationVar(&sweepInterval, "sweep-interval", 0, "Run node cleanup and job expiry this often (0 disables)")
	f.DurationVar(&executionDeadline, "execution-deadline", 0, "Fail jobs executing longer than this (0 disables)")
	f.IntVar(&maxResults, "max-results", 0, "Completed jobs retained by clear_completed")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func flagOverrides(cmd *cobra.Command) config.Overrides {
	o := config.Overrides{}
	flags := cmd.Flags()
	if flags.Changed("host") {
		o.Set("server.host", host)
	}
	if flags.Changed("port") {
		o.Set("server.port", port)
	}
	if flags.Changed("log-level") {
		o.Set("logging.level", logLevel)
	}
	if flags.Changed("log-profile") {
		o.Set("logging.profile", logProfile)
	}
	if flags.Changed("etcd-endpoints") {
		o.Set("mirror.endpoints", etcdEndpoints)
	}
	if flags.Changed("templates") {
		o.Set("jobs.templates_file", templatesFile)
	}
	if flags.Changed("sweep-interval") {
		o.Set("registry.sweep_interval", sweepInterval)
	}
	if flags.Changed("execution-deadline") {
		o.Set("jobs.execution_deadline", executionDeadline)
	}
	if flags.Changed("max-results") {
		o.Set("jobs.max_results", maxResults)
	}
	return o
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger("coordinator", cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	catalog := templates.New()
	if cfg.Jobs.TemplatesFile != "" {
		n, err := catalog.LoadFile(cfg.Jobs.TemplatesFile)
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		logger.Info("Loaded job templates", zap.String("file", cfg.Jobs.TemplatesFile), zap.Int("count", n))
	}

	mirror, err := openMirror(cfg.Mirror, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mirror.Close(); err != nil {
			logger.Warn("Failed to close mirror", zap.Error(err))
		}
	}()

	coord := coordinator.New(store.NewMemoryRegistry(), store.NewMemoryJobStore(), catalog, mirror, coordinator.Config{
		ActiveWindow:      cfg.Registry.ActiveWindow,
		EvictionWindow:    cfg.Registry.EvictionWindow,
		MaxResults:        cfg.Jobs.MaxResults,
		ExecutionDeadline: cfg.Jobs.ExecutionDeadline,
	}, logger)
	srv := api.New(coord, cfg.Server, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sweeper := janitor.New(coord, cfg.Registry.SweepInterval, logger)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	logger.Info("Starting coordinator",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("active_window", cfg.Registry.ActiveWindow),
		zap.Duration("eviction_window", cfg.Registry.EvictionWindow),
		zap.Bool("mirror", cfg.Mirror.Enabled()),
		zap.Strings("job_types", catalog.Types()))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		cancel()
		<-sweeperDone
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	<-sweeperDone
	if err := <-serveErr; err != nil {
		return err
	}
	logger.Info("Coordinator stopped")
	return nil
}

func openMirror(cfg config.MirrorConfig, logger *zap.Logger) (store.Mirror, error) {
	if !cfg.Enabled() {
		return store.NopMirror{}, nil
	}
	etcd, err := store.NewEtcdMirror(store.EtcdConfig{
		Endpoints:   cfg.Endpoints,
		Prefix:      cfg.Prefix,
		LeaseTTL:    cfg.LeaseTTL,
		DialTimeout: cfg.DialTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Mirroring state to etcd", zap.Strings("endpoints", cfg.Endpoints), zap.String("prefix", cfg.Prefix))
	return store.NewAsyncMirror(etcd, cfg.Buffer, cfg.DialTimeout, logger), nil
}
