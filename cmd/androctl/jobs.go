package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"androcompute/internal/observability"
	"androcompute/pkg/model"
)

var (
	submitCount int
	submitRate  float64
)

var submitCmd = &cobra.Command{
	Use:   "submit [type]",
	Short: "Submit one or more jobs",
	Long: `Submit jobs of the given type. Without a type the coordinator's default
is used. Unknown types fall back to the default template.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List every stored job",
	RunE:  runJobs,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List finished jobs in completion order",
	RunE:  runResults,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop finished jobs beyond the retention limit",
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(submitCmd, statusCmd, jobsCmd, resultsCmd, clearCmd)

	submitCmd.Flags().IntVarP(&submitCount, "count", "n", 1, "Number of jobs to submit")
	submitCmd.Flags().Float64Var(&submitRate, "rate", 0, "Submissions per second (0 = unlimited)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitCount < 1 {
		return errors.New("--count must be at least 1")
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	jobType := ""
	if len(args) == 1 {
		jobType = args[0]
	}

	limit := rate.Inf
	if submitRate > 0 {
		limit = rate.Limit(submitRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	ctx := cmd.Context()
	accepted := make([]model.SubmitJobResponse, 0, submitCount)
	var lastErr error
	for i := 0; i < submitCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.SubmitJob(ctx, jobType)
		if err != nil {
			lastErr = err
			observability.CLILogger.Warn("Submission rejected", zap.Int("n", i+1), zap.Error(err))
			continue
		}
		observability.CLILogger.Debug("Submitted", zap.String("job_id", resp.JobID), zap.String("node_id", resp.AssignedTo))
		accepted = append(accepted, resp)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, accepted); err != nil {
			return err
		}
	} else {
		printSubmissions(out, accepted)
	}
	if len(accepted) == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	job, err := c.JobStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), job)
	}
	printJob(cmd.OutOrStdout(), job)
	return nil
}

func runJobs(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	jobs, err := c.Jobs(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), jobs)
	}
	printJobs(cmd.OutOrStdout(), jobs)
	return nil
}

func runResults(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	results, err := c.Results(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), results)
	}
	printResults(cmd.OutOrStdout(), results)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	resp, err := c.ClearCompleted(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d jobs (%d results dropped), %d remaining\n",
		resp.JobsRemoved, resp.ResultsDropped, resp.JobsRemaining)
	return nil
}
