package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/summarizer"
	"ctxkeep/pkg/workspace"
)

var (
	summarizeHours int
	summarizeFrom  string
	summarizeTo    string
	curateDays     int
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Write hourly summaries and merge them into daily memory",
	Long: `Summarize session activity hour by hour. Each non-empty hour gets an
hourly file and a section in that day's daily memory document. Re-running
an hour replaces its section instead of duplicating it.

Examples:
  # The last completed hour
  ctxkeep summarize

  # The last 6 hours
  ctxkeep summarize --hours 6

  # An explicit window (RFC3339)
  ctxkeep summarize --from 2026-03-01T09:00:00Z --to 2026-03-01T12:00:00Z`,
	Args: cobra.NoArgs,
	Run:  runSummarize,
}

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Fold recent decisions and action items into long-term memory",
	Args:  cobra.NoArgs,
	Run:   runCurate,
}

func init() {
	summarizeCmd.Flags().IntVar(&summarizeHours, "hours", 0, "number of past hours to summarize (default from config)")
	summarizeCmd.Flags().StringVar(&summarizeFrom, "from", "", "window start (RFC3339)")
	summarizeCmd.Flags().StringVar(&summarizeTo, "to", "", "window end (RFC3339, default now)")

	curateCmd.Flags().IntVar(&curateDays, "days", 0, "daily documents to read (default from config)")

	rootCmd.AddCommand(summarizeCmd, curateCmd)
}

// summaryWindow resolves --from/--to. ok is false when no explicit window
// was given.
func summaryWindow(from, to string, now time.Time) (start, end time.Time, ok bool, err error) {
	if from == "" {
		if to != "" {
			return time.Time{}, time.Time{}, false, fmt.Errorf("--to requires --from")
		}
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid --from: %w", err)
	}
	end = now
	if to != "" {
		end, err = time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("--to must be after --from")
	}
	return start, end, true, nil
}

func runSummarize(cmd *cobra.Command, args []string) {
	start, end, explicit, err := summaryWindow(summarizeFrom, summarizeTo, time.Now())
	if err != nil {
		fail("%v", err)
	}

	var (
		sum *summarizer.Summarizer
		cfg *config.Config
	)
	cleanup := mustStartApp(&sum, &cfg)
	defer cleanup()

	ctx := context.Background()
	var report *summarizer.Report
	if explicit {
		report, err = sum.SummarizeRange(ctx, start, end)
	} else {
		hours := summarizeHours
		if hours <= 0 {
			hours = cfg.Summarizer.Hours
		}
		report, err = sum.Summarize(ctx, hours)
	}
	if err != nil && report == nil {
		fail("summarizing: %v", err)
	}

	if jsonOutput {
		printJSON(report)
	} else {
		fmt.Printf("✅ Summarized %d hours: %d written, %d empty\n", report.Hours, report.Written, report.Empty)
		for _, f := range report.Files {
			fmt.Printf("   %s\n", f)
		}
	}
	if err != nil {
		fail("summarizing: %v", err)
	}
}

func runCurate(cmd *cobra.Command, args []string) {
	var (
		curator *workspace.Curator
		cfg     *config.Config
	)
	cleanup := mustStartApp(&curator, &cfg)
	defer cleanup()

	days := curateDays
	if days <= 0 {
		days = cfg.Schedule.CurateDays
	}
	report, err := curator.Curate(context.Background(), days)
	if err != nil {
		fail("curating: %v", err)
	}

	if jsonOutput {
		printJSON(report)
		return
	}
	if !report.Changed {
		fmt.Printf("Long-term memory already up to date (%d daily files read)\n", report.DailyFiles)
		return
	}
	fmt.Printf("✅ Curated %d daily files: %d decisions, %d action items added\n",
		report.DailyFiles, report.DecisionsAdded, report.ActionsAdded)
}
