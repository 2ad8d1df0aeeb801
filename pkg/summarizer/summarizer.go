// Package summarizer turns raw conversation logs into hourly and daily
// memory documents using lexical heuristics.
package summarizer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/tokens"
	"ctxkeep/pkg/workspace"
)

// Options tunes extraction.
type Options struct {
	TopTopics int
	MaxItems  int
	Rules     []Rule
}

// DefaultOptions returns the default extraction settings.
func DefaultOptions() Options {
	return Options{TopTopics: 10, MaxItems: 10, Rules: DefaultRules()}
}

// Stats counts the messages of a window.
type Stats struct {
	Messages int            `json:"messages"`
	ByRole   map[string]int `json:"by_role"`
	Sessions int            `json:"sessions"`
}

// Summary is the extraction result for one hour.
type Summary struct {
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Topics    []TopicCount `json:"topics"`
	Decisions []string     `json:"decisions"`
	Actions   []string     `json:"actions"`
	Tools     []ToolCount  `json:"tools"`
	Stats     Stats        `json:"stats"`
}

// Label returns the daily-section label "HH:00 - HH:00".
func (s *Summary) Label() string {
	return hourLabel(s.Start)
}

// Report describes a summarization run.
type Report struct {
	Hours     int        `json:"hours"`
	Written   int        `json:"written"`
	Empty     int        `json:"empty"`
	Files     []string   `json:"files"`
	Summaries []*Summary `json:"-"`
}

// Summarizer writes hourly summaries and merges them into daily documents.
type Summarizer struct {
	reader    *session.LogReader
	workspace *workspace.Manager
	opts      Options
	log       *logger.Logger
	now       func() time.Time
}

// New creates a summarizer.
func New(reader *session.LogReader, ws *workspace.Manager, opts Options, log *logger.Logger) *Summarizer {
	if log == nil {
		log = logger.NewNop()
	}
	defaults := DefaultOptions()
	if opts.TopTopics <= 0 {
		opts.TopTopics = defaults.TopTopics
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = defaults.MaxItems
	}
	if len(opts.Rules) == 0 {
		opts.Rules = defaults.Rules
	}
	return &Summarizer{
		reader:    reader,
		workspace: ws,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Summarize processes the trailing hours complete hours ending at the top
// of the current hour.
func (s *Summarizer) Summarize(ctx context.Context, hours int) (*Report, error) {
	if hours <= 0 {
		hours = 1
	}
	end := hourStart(s.now())
	return s.SummarizeRange(ctx, end.Add(-time.Duration(hours)*time.Hour), end)
}

// SummarizeRange processes every hour in [start, end), oldest first. Hours
// without messages are skipped and leave existing documents untouched.
func (s *Summarizer) SummarizeRange(ctx context.Context, start, end time.Time) (*Report, error) {
	start = hourStart(start)
	report := &Report{}
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Hours++
		summary, path, err := s.SummarizeHour(ctx, h)
		if err != nil {
			return report, err
		}
		if summary == nil {
			report.Empty++
			continue
		}
		report.Written++
		report.Files = append(report.Files, path)
		report.Summaries = append(report.Summaries, summary)
	}

	s.log.Info("Summarized conversation logs",
		zap.Int("hours", report.Hours),
		zap.Int("written", report.Written),
		zap.Int("empty", report.Empty),
	)
	return report, nil
}

// SummarizeHour summarizes the hour starting at start, writes the hourly
// document and merges the daily one. It returns a nil summary when the
// hour has no messages.
func (s *Summarizer) SummarizeHour(ctx context.Context, start time.Time) (*Summary, string, error) {
	start = hourStart(start)
	end := start.Add(time.Hour)

	msgs, err := s.reader.Window(ctx, start, end)
	if err != nil {
		return nil, "", fmt.Errorf("reading session logs: %w", err)
	}
	if len(msgs) == 0 {
		s.log.Debug("No messages in hour", zap.Time("start", start))
		return nil, "", nil
	}

	summary := s.Analyze(msgs)
	summary.Start = start
	summary.End = end

	if err := os.MkdirAll(s.workspace.HourlyDir(), 0o755); err != nil {
		return nil, "", fmt.Errorf("creating hourly directory: %w", err)
	}
	path := s.workspace.HourlyPath(start)
	if err := fileutil.WriteFileAtomic(path, []byte(RenderHourly(summary)), 0o644); err != nil {
		return nil, "", fmt.Errorf("writing hourly summary: %w", err)
	}

	if err := s.mergeDaily(ctx, summary); err != nil {
		return nil, "", err
	}

	s.log.Info("Wrote hourly summary",
		zap.String("path", path),
		zap.Int("messages", summary.Stats.Messages),
		zap.Int("decisions", len(summary.Decisions)),
		zap.Int("actions", len(summary.Actions)),
	)
	return summary, path, nil
}

// Analyze extracts topics, decisions, action items, tool usage and
// statistics from msgs. Start and End are left zero.
func (s *Summarizer) Analyze(msgs []session.Message) *Summary {
	var (
		all        strings.Builder
		assistant  []string
		sessionSet = make(map[string]bool)
		stats      = Stats{ByRole: make(map[string]int)}
	)
	for _, m := range msgs {
		all.WriteString(m.Content)
		all.WriteString("\n")
		if m.Role == "assistant" {
			assistant = append(assistant, m.Content)
		}
		stats.Messages++
		stats.ByRole[m.Role]++
		if m.Session != "" {
			sessionSet[m.Session] = true
		}
	}
	stats.Sessions = len(sessionSet)

	text := all.String()
	return &Summary{
		Topics:    Topics(tokens.ContentWords(text), s.opts.TopTopics),
		Decisions: Extract(text, s.opts.Rules, KindDecision, s.opts.MaxItems),
		Actions:   Extract(text, s.opts.Rules, KindAction, s.opts.MaxItems),
		Tools:     CountTools(assistant),
		Stats:     stats,
	}
}

func (s *Summarizer) mergeDaily(ctx context.Context, summary *Summary) error {
	path := s.workspace.DailyPath(summary.Start)
	label := summary.Label()
	body := renderDailySection(summary)

	err := s.workspace.UpdateDocument(ctx, path, func(doc *workspace.Document) (bool, error) {
		if len(doc.Sections) == 0 && strings.TrimSpace(doc.Preamble) == "" {
			doc.Preamble = fmt.Sprintf("# Daily Memory: %s\n\n", summary.Start.Format("2006-01-02"))
		}
		if i := doc.Index(label); i >= 0 {
			if doc.Sections[i].Body == body {
				return false, nil
			}
			doc.Sections[i].Body = body
			return true, nil
		}
		doc.Insert(hourInsertPosition(doc, summary.Start.Hour()), workspace.Section{Title: label, Body: body})
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("merging daily document: %w", err)
	}
	return nil
}

// hourInsertPosition returns the index before the first hour section that
// starts later than hour. Other sections keep their place.
func hourInsertPosition(doc *workspace.Document, hour int) int {
	for i, sec := range doc.Sections {
		if h, ok := parseHourLabel(sec.Title); ok && h > hour {
			return i
		}
	}
	return len(doc.Sections)
}

// hourStart returns the top of t's hour on its own wall clock.
// time.Truncate works on absolute time and lands mid-hour in zones with
// a :30 or :45 offset.
func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func hourLabel(start time.Time) string {
	return fmt.Sprintf("%s - %s", start.Format("15:04"), start.Add(time.Hour).Format("15:04"))
}

func parseHourLabel(title string) (int, bool) {
	var from, to int
	if _, err := fmt.Sscanf(title, "%d:00 - %d:00", &from, &to); err != nil {
		return 0, false
	}
	if from < 0 || from > 23 {
		return 0, false
	}
	return from, true
}

// RenderHourly renders the standalone hourly document.
func RenderHourly(s *Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Hourly Summary: %s %s\n\n", s.Start.Format("2006-01-02"), s.Label())
	writeBlocks(&sb, s, "##")
	return sb.String()
}

func renderDailySection(s *Summary) string {
	var sb strings.Builder
	sb.WriteString("\n")
	writeBlocks(&sb, s, "###")
	return sb.String()
}

func writeBlocks(sb *strings.Builder, s *Summary, level string) {
	topics := make([]string, len(s.Topics))
	for i, t := range s.Topics {
		topics[i] = fmt.Sprintf("%s (%d)", t.Word, t.Count)
	}
	tools := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		tools[i] = fmt.Sprintf("%s: %d", t.Name, t.Count)
	}

	roles := make([]string, 0, len(s.Stats.ByRole))
	for role := range s.Stats.ByRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	stats := []string{fmt.Sprintf("Messages: %d", s.Stats.Messages)}
	for _, role := range roles {
		stats = append(stats, fmt.Sprintf("%s: %d", role, s.Stats.ByRole[role]))
	}
	stats = append(stats, fmt.Sprintf("Sessions: %d", s.Stats.Sessions))

	writeList(sb, level, "Topics", topics)
	writeList(sb, level, "Decisions", s.Decisions)
	writeList(sb, level, "Action Items", s.Actions)
	writeList(sb, level, "Tool Usage", tools)
	writeList(sb, level, "Statistics", stats)
}

func writeList(sb *strings.Builder, level, title string, items []string) {
	fmt.Fprintf(sb, "%s %s\n", level, title)
	if len(items) == 0 {
		sb.WriteString("- _none_\n")
	}
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
