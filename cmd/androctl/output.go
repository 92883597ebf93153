package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"androcompute/pkg/model"
	"androcompute/pkg/store"
)

const maxCell = 48

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSubmissions(w io.Writer, subs []model.SubmitJobResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tASSIGNED TO\tDESCRIPTION")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.JobID, s.AssignedTo, s.Description)
	}
	_ = tw.Flush()
}

func printJob(w io.Writer, j model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Job:\t%s\n", j.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", j.Type)
	fmt.Fprintf(tw, "Description:\t%s\n", j.Description)
	fmt.Fprintf(tw, "Status:\t%s\n", j.State)
	fmt.Fprintf(tw, "Assigned to:\t%s\n", j.AssignedTo)
	fmt.Fprintf(tw, "Submitted:\t%s\n", j.SubmittedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Fprintf(tw, "Started:\t%s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", j.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "Execution time:\t%.3fs\n", j.ExecutionTime)
	}
	if len(j.Result) > 0 {
		fmt.Fprintf(tw, "Result:\t%s\n", j.Result)
	}
	if j.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", j.Error)
	}
	_ = tw.Flush()
}

func printJobs(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTYPE\tSTATUS\tASSIGNED TO\tSUBMITTED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Type, j.State, j.AssignedTo, j.SubmittedAt.Format("15:04:05"))
	}
	_ = tw.Flush()
}

func printResults(w io.Writer, results []model.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tTYPE\tSTATUS\tNODE\tTIME\tOUTCOME")
	for _, r := range results {
		outcome := string(r.Result)
		if r.Status == model.JobFailed {
			outcome = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3fs\t%s\n", r.JobID, r.Type, r.Status, r.NodeID, r.ExecutionTime, truncate(outcome, maxCell))
	}
	_ = tw.Flush()
}

func printNodes(w io.Writer, nodes []model.NodeView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE ID\tSTATUS\tIDLE\tCPU\tMEMORY\tBATTERY")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%.0fs\t%s\t%s\t%s\n",
			n.ID, n.Status, n.SecondsIdle, cpuCell(n.Resources), memoryCell(n.Resources), batteryCell(n.Resources))
	}
	_ = tw.Flush()
}

func formatEvent(ev store.JobEvent) string {
	if ev.Job == nil {
		return fmt.Sprintf("%-6s %s", ev.Type, ev.JobID)
	}
	line := fmt.Sprintf("%-6s %s %s %s on %s", ev.Type, ev.JobID, ev.Job.Type, ev.Job.State, ev.Job.AssignedTo)
	if ev.Job.Error != "" {
		line += ": " + ev.Job.Error
	}
	return line
}

func cpuCell(r model.Resources) string {
	if v, ok := r.Number(model.ResCPUCores); ok {
		return fmt.Sprintf("%.0f", v)
	}
	return "-"
}

func memoryCell(r model.Resources) string {
	v, ok := r.Number(model.ResMemoryTotal)
	if !ok {
		return "-"
	}
	return formatBytes(v)
}

func batteryCell(r model.Resources) string {
	level, ok := r.Number(model.ResBatteryLevel)
	if !ok {
		return "-"
	}
	cell := fmt.Sprintf("%.0f%%", level)
	if charging, _ := r.Bool(model.ResIsCharging); charging {
		cell += " (charging)"
	}
	return cell
}

func formatBytes(n float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for n >= 1024 && i < len(units)-1 {
		n /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", n, units[i])
	}
	return fmt.Sprintf("%.1f %s", n, units[i])
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
