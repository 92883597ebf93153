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
	"androcompute/internal/observability"
	"androcompute/internal/worker"
	"androcompute/internal/worker/executor"
	"androcompute/pkg/client"
)

var (
	configFile     string
	coordinatorURL string
	nodeID         string
	pollInterval   time.Duration
	jobTimeout     time.Duration
	executorKind   string
	dockerImage    string
	logLevel       string
	logProfile     string
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an AndroCompute worker",
	Long: `Register with the coordinator, then poll for assigned jobs, execute them
and report each outcome.

The builtin executor runs the fixed capability set in-process. The docker
executor runs the same capabilities as shell recipes in a locked-down container.`,
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	f.StringVar(&coordinatorURL, "coordinator", "", "Coordinator base URL")
	f.StringVar(&nodeID, "node-id", "", "Node id (default worker_<random>)")
	f.DurationVar(&pollInterval, "poll-interval", 0, "Delay between polls")
	f.DurationVar(&jobTimeout, "job-timeout", 0, "Upper bound on a single job")
	f.StringVar(&executorKind, "executor", "", "Executor: builtin or docker")
	f.StringVar(&dockerImage, "docker-image", "", "Image for the docker executor")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&logProfile, "log-profile", "", "Log profile: structured or console")
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
	if flags.Changed("coordinator") {
		o.Set("worker.coordinator_url", coordinatorURL)
	}
	if flags.Changed("node-id") {
		o.Set("worker.node_id", nodeID)
	}
	if flags.Changed("poll-interval") {
		o.Set("worker.poll_interval", pollInterval)
	}
	if flags.Changed("job-timeout") {
		o.Set("worker.job_timeout", jobTimeout)
	}
	if flags.Changed("executor") {
		o.Set("worker.executor", executorKind)
	}
	if flags.Changed("docker-image") {
		o.Set("worker.docker.image", dockerImage)
	}
	if flags.Changed("log-level") {
		o.Set("logging.level", logLevel)
	}
	if flags.Changed("log-profile") {
		o.Set("logging.profile", logProfile)
	}
	return o
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger("worker", cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	exec, closeExec, err := newExecutor(cfg.Worker, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	c, err := client.New(cfg.Worker.CoordinatorURL, client.WithTimeout(cfg.Worker.RequestTimeout))
	if err != nil {
		return err
	}

	agent := worker.NewAgent(c, exec, worker.Config{
		NodeID:         cfg.Worker.NodeID,
		PollInterval:   cfg.Worker.PollInterval,
		RequestTimeout: cfg.Worker.RequestTimeout,
	}, logger)

	logger.Info("Starting worker",
		zap.String("node_id", agent.ID()),
		zap.String("coordinator", c.BaseURL()),
		zap.String("executor", cfg.Worker.Executor))
	return agent.Run(cmd.Context())
}

func newExecutor(cfg config.WorkerConfig, logger *zap.Logger) (executor.Executor, func(), error) {
	switch cfg.Executor {
	case config.ExecutorDocker:
		d, err := executor.NewDocker(executor.DockerConfig{
			Image:       cfg.Docker.Image,
			Pull:        cfg.Docker.Pull,
			MemoryBytes: cfg.Docker.MemoryBytes,
			NanoCPUs:    cfg.Docker.NanoCPUs,
			PidsLimit:   cfg.Docker.PidsLimit,
			Timeout:     cfg.JobTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case config.ExecutorBuiltin, "":
		return executor.NewBuiltin(cfg.JobTimeout, logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown executor %q", cfg.Executor)
}
