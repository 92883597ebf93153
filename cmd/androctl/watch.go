package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"androcompute/internal/observability"
	"androcompute/pkg/store"
)

var (
	watchEndpoints []string
	watchPrefix    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream job changes from the etcd mirror",
	Long: `Print the nodes currently mirrored to etcd, then stream every job
create, update and delete until interrupted. Requires a coordinator started
with etcd endpoints.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVar(&watchEndpoints, "etcd-endpoints", nil, "etcd endpoints (default from config)")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "Mirror key prefix (default from config)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	endpoints := cfg.Mirror.Endpoints
	if len(watchEndpoints) > 0 {
		endpoints = watchEndpoints
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no etcd endpoints: set --etcd-endpoints or ANDROCOMPUTE_ETCD_ENDPOINTS")
	}
	prefix := cfg.Mirror.Prefix
	if watchPrefix != "" {
		prefix = watchPrefix
	}

	mirror, err := store.NewEtcdMirror(store.EtcdConfig{
		Endpoints:   endpoints,
		Prefix:      prefix,
		DialTimeout: cfg.Mirror.DialTimeout,
	}, observability.CLILogger)
	if err != nil {
		return err
	}
	defer mirror.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	nodes, err := mirror.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("list mirrored nodes: %w", err)
	}
	fmt.Fprintf(out, "%d mirrored nodes\n", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(out, "  %s  last seen %s\n", n.ID, n.LastSeen.Format("15:04:05"))
	}

	for ev := range mirror.WatchJobs(ctx) {
		if jsonOutput {
			if err := printJSON(out, map[string]any{"type": ev.Type.String(), "job_id": ev.JobID, "job": ev.Job}); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
	return nil
}
