package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ctxkeep/pkg/cron"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run scheduled retention jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with their schedule and last run",
	Args:  cobra.NoArgs,
	Run:   runJobsList,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a job now",
	Long: `Run a job immediately and record the outcome.

Jobs: summarize, index, curate, prune`,
	Args: cobra.ExactArgs(1),
	Run:  runJobsRun,
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) {
	var manager *cron.Manager
	cleanup := mustStartApp(&manager)
	defer cleanup()

	jobs, err := manager.Status(context.Background())
	if err != nil {
		fail("reading job status: %v", err)
	}
	if jsonOutput {
		printJSON(jobs)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tNEXT RUN\tLAST RUN\tRUNS\tSTATUS")
	fmt.Fprintln(w, "----\t--------\t--------\t--------\t----\t------")
	for _, job := range jobs {
		nextRun := "-"
		if !job.NextRun.IsZero() {
			nextRun = job.NextRun.Format("2006-01-02 15:04:05")
		}
		lastRun, runs, status := "-", 0, "never"
		if job.LastRun != nil {
			lastRun = job.LastRun.LastStart.Format("2006-01-02 15:04:05")
			runs = job.LastRun.Runs
			status = "ok"
			if !job.LastRun.Succeeded() {
				status = "failed: " + truncateString(job.LastRun.LastError, 40)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", job.Name, job.Schedule, nextRun, lastRun, runs, status)
	}
	_ = w.Flush()
}

func runJobsRun(cmd *cobra.Command, args []string) {
	var manager *cron.Manager
	cleanup := mustStartApp(&manager)
	defer cleanup()

	start := time.Now()
	detail, err := manager.RunNow(context.Background(), args[0])
	if err != nil {
		fail("running %s: %v", args[0], err)
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"job": args[0], "detail": detail})
		return
	}
	fmt.Printf("✅ %s finished in %s\n", args[0], time.Since(start).Round(time.Millisecond))
	for k, v := range detail {
		fmt.Printf("   %s: %v\n", k, v)
	}
}
