package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"androcompute/internal/observability"
	"androcompute/internal/sim"
)

var simCfg sim.Config

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated workers and submit jobs against a live coordinator",
	Long: `Register --workers simulated nodes, submit --jobs jobs cycling through
--types, and wait until every job is finished. The simulated executor sleeps
for a random time between --min-work and --max-work.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.IntVar(&simCfg.Workers, "workers", 3, "Simulated workers")
	f.IntVar(&simCfg.Jobs, "jobs", 10, "Jobs to submit")
	f.StringSliceVar(&simCfg.JobTypes, "types", nil, "Job types to cycle through")
	f.Float64Var(&simCfg.Rate, "rate", 0, "Submissions per second (0 = unlimited)")
	f.DurationVar(&simCfg.MinWork, "min-work", 2*time.Second, "Shortest simulated job")
	f.DurationVar(&simCfg.MaxWork, "max-work", 8*time.Second, "Longest simulated job")
	f.DurationVar(&simCfg.PollInterval, "poll-interval", 2*time.Second, "Worker poll interval")
	f.DurationVar(&simCfg.Timeout, "max-duration", 5*time.Minute, "Give up after this long")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	summary, runErr := sim.Run(cmd.Context(), c.BaseURL(), simCfg, observability.CLILogger)
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, summary); err != nil {
			return err
		}
		return runErr
	}

	fmt.Fprintf(out, "registered %d  submitted %d  rejected %d  completed %d  failed %d  pending %d\n",
		summary.Registered, summary.Submitted, summary.Rejected, summary.Completed, summary.Failed, summary.Pending)
	nodes := make([]string, 0, len(summary.PerNode))
	for n := range summary.PerNode {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, fmt.Sprintf("%s=%d", n, summary.PerNode[n]))
	}
	if len(parts) > 0 {
		fmt.Fprintf(out, "per node: %s\n", strings.Join(parts, " "))
	}
	return runErr
}
