package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
)

// Section titles the curator maintains in MEMORY.md.
const (
	SectionDecisions = "Recent Decisions"
	SectionActions   = "Open Action Items"
)

// CuratorOptions bounds the curated sections.
type CuratorOptions struct {
	MaxDecisions int
	MaxActions   int
}

// DefaultCuratorOptions returns the default bounds.
func DefaultCuratorOptions() CuratorOptions {
	return CuratorOptions{MaxDecisions: 20, MaxActions: 20}
}

// CurateReport describes one curation run.
type CurateReport struct {
	DailyFiles     int  `json:"daily_files"`
	DecisionsAdded int  `json:"decisions_added"`
	ActionsAdded   int  `json:"actions_added"`
	Changed        bool `json:"changed"`
}

// Curator folds recent daily decisions and action items into the
// long-term memory document. Only its own two sections are rewritten.
type Curator struct {
	manager *Manager
	opts    CuratorOptions
	log     *logger.Logger
}

// NewCurator creates a curator.
func NewCurator(manager *Manager, opts CuratorOptions, log *logger.Logger) *Curator {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.MaxDecisions <= 0 {
		opts.MaxDecisions = DefaultCuratorOptions().MaxDecisions
	}
	if opts.MaxActions <= 0 {
		opts.MaxActions = DefaultCuratorOptions().MaxActions
	}
	return &Curator{manager: manager, opts: opts, log: log}
}

// Curate reads the daily documents of the last days days and merges their
// decisions and action items into MEMORY.md.
func (c *Curator) Curate(ctx context.Context, days int) (CurateReport, error) {
	var report CurateReport
	if days <= 0 {
		days = 1
	}
	if err := c.manager.ensureLongTerm(); err != nil {
		return report, err
	}

	var decisions, actions []string
	for _, path := range c.manager.RecentDailyPaths(c.manager.now(), days) {
		data, err := os.ReadFile(path)
		if err != nil {
			return report, fmt.Errorf("reading %s: %w", path, err)
		}
		report.DailyFiles++
		day := strings.TrimSuffix(filepath.Base(path), ".md")
		doc := ParseDocument(string(data))
		for _, s := range doc.Sections {
			for _, item := range Bullets(Subsection(s.Body, "Decisions")) {
				decisions = append(decisions, day+": "+item)
			}
			for _, item := range Bullets(Subsection(s.Body, "Action Items")) {
				actions = append(actions, day+": "+item)
			}
		}
	}

	err := c.manager.UpdateDocument(ctx, c.manager.LongTermPath(), func(doc *Document) (bool, error) {
		decisionsAdded, decisionsChanged := mergeBullets(doc, SectionDecisions, decisions, c.opts.MaxDecisions)
		actionsAdded, actionsChanged := mergeBullets(doc, SectionActions, actions, c.opts.MaxActions)

		report.DecisionsAdded = decisionsAdded
		report.ActionsAdded = actionsAdded
		report.Changed = decisionsChanged || actionsChanged
		return report.Changed, nil
	})
	if err != nil {
		return report, err
	}

	c.log.Info("Curated long-term memory",
		zap.Int("daily_files", report.DailyFiles),
		zap.Int("decisions_added", report.DecisionsAdded),
		zap.Int("actions_added", report.ActionsAdded),
	)
	return report, nil
}

// mergeBullets appends new items to the titled section, dropping
// duplicates (ignoring the date prefix and case) and keeping the newest
// limit items.
func mergeBullets(doc *Document, title string, items []string, limit int) (int, bool) {
	current, _ := doc.Section(title)
	existing := Bullets(current)

	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[bulletKey(item)] = true
	}

	merged := append([]string(nil), existing...)
	added := 0
	for _, item := range items {
		key := bulletKey(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, item)
		added++
	}
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	if added == 0 {
		return 0, false
	}

	var sb strings.Builder
	sb.WriteString("\n")
	for _, item := range merged {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	doc.SetSection(title, sb.String())
	return added, true
}

// bulletKey strips a leading "YYYY-MM-DD: " and lowercases the rest.
func bulletKey(item string) string {
	if len(item) > 12 && item[10] == ':' {
		if _, err := time.Parse("2006-01-02", item[:10]); err == nil {
			item = item[12:]
		}
	}
	return strings.ToLower(strings.TrimSpace(item))
}
