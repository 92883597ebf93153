package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List registered nodes with their derived status",
	RunE:  runNodes,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict nodes silent for longer than the eviction window",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(nodesCmd, cleanupCmd)
}

func runNodes(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	nodes, err := c.Nodes(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), nodes)
	}
	printNodes(cmd.OutOrStdout(), nodes)
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	resp, err := c.CleanupNodes(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "removed %d inactive nodes\n", resp.InactiveRemoved)
	if len(resp.Removed) > 0 {
		fmt.Fprintf(out, "  %s\n", strings.Join(resp.Removed, ", "))
	}
	return nil
}
