package cron

import (
	"context"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/memory"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/summarizer"
	"ctxkeep/pkg/workspace"
)

// Job names.
const (
	JobSummarize = "summarize"
	JobIndex     = "index"
	JobCurate    = "curate"
	JobPrune     = "prune"
)

// Deps are the components the retention jobs drive.
type Deps struct {
	Summarizer *summarizer.Summarizer
	Store      *memory.Store
	Curator    *workspace.Curator
	Sessions   *session.Manager
}

// RetentionJobs builds the standard job set from configuration.
func RetentionJobs(cfg *config.Config, deps Deps) []Job {
	sched := cfg.Schedule
	hours := cfg.Summarizer.Hours

	return []Job{
		{
			Name:     JobSummarize,
			Schedule: sched.Summarize,
			Run: func(ctx context.Context) (map[string]any, error) {
				report, err := deps.Summarizer.Summarize(ctx, hours)
				if report == nil {
					return nil, err
				}
				return map[string]any{"hours": report.Hours, "written": report.Written, "empty": report.Empty}, err
			},
		},
		{
			Name:     JobIndex,
			Schedule: sched.Index,
			Run: func(ctx context.Context) (map[string]any, error) {
				report, err := deps.Store.IndexAll(ctx, sched.IndexDaysBack)
				return map[string]any{"files": report.Files, "chunks": report.Chunks, "skipped": report.Skipped, "failed": report.Failed}, err
			},
		},
		{
			Name:     JobCurate,
			Schedule: sched.Curate,
			Run: func(ctx context.Context) (map[string]any, error) {
				report, err := deps.Curator.Curate(ctx, sched.CurateDays)
				return map[string]any{"daily_files": report.DailyFiles, "decisions_added": report.DecisionsAdded, "actions_added": report.ActionsAdded}, err
			},
		},
		{
			Name:     JobPrune,
			Schedule: sched.Curate,
			Run: func(ctx context.Context) (map[string]any, error) {
				stats, err := deps.Sessions.Prune(ctx, session.DefaultPruneConfig())
				return map[string]any{"sessions_pruned": stats.SessionsPruned, "messages_pruned": stats.MessagesPruned}, err
			},
		},
	}
}
