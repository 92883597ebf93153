package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"androcompute/internal/config"
	"androcompute/internal/observability"
	"androcompute/pkg/client"
)

var (
	configFile     string
	coordinatorURL string
	jsonOutput     bool
	verbose        bool
	requestTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "androctl",
	Short: "Operate an AndroCompute coordinator",
	Long: `androctl submits jobs to a coordinator and inspects its nodes, jobs and
results. The coordinator URL comes from --coordinator, then
ANDROCOMPUTE_COORDINATOR_URL, then the config file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		return observability.InitCLILogger(level)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	pf.StringVar(&coordinatorURL, "coordinator", "", "Coordinator base URL")
	pf.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging on stderr")
	pf.DurationVar(&requestTimeout, "timeout", 10*time.Second, "Per-request timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	o := config.Overrides{}
	if cmd.Flags().Changed("coordinator") {
		o.Set("worker.coordinator_url", coordinatorURL)
	}
	return config.Load(configFile, o)
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Worker.CoordinatorURL, client.WithTimeout(requestTimeout))
}
