package compaction

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/tasks"
	"ctxkeep/pkg/tokens"
	"ctxkeep/pkg/workspace"
)

const (
	briefHeader     = "# Continuity Brief\n\nYour working context was reset. This is what you were doing.\n\n"
	truncatedMarker = "\n[...truncated]\n"
)

// BriefOptions bounds the continuity brief.
type BriefOptions struct {
	// Budget is the whole brief's token budget.
	Budget int
	// MinSection is the budget that must remain for a section to be
	// considered at all.
	MinSection int
	// LongTermSections are the MEMORY.md sections copied into the brief.
	LongTermSections []string
}

// DefaultBriefOptions returns the default budget.
func DefaultBriefOptions() BriefOptions {
	return BriefOptions{
		Budget:     2000,
		MinSection: 400,
		LongTermSections: []string{
			"Identity & Purpose", "Current Projects", workspace.SectionDecisions, workspace.SectionActions,
		},
	}
}

// BriefSection is one priority-ordered part of the brief.
type BriefSection struct {
	Title     string `json:"title"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Brief is a rendered continuity brief.
type Brief struct {
	Text     string         `json:"text"`
	Tokens   int            `json:"tokens"`
	Sections []BriefSection `json:"sections"`
}

// BriefBuilder assembles continuity briefs from the task board and the
// memory documents.
type BriefBuilder struct {
	tasks     tasks.StatusProvider
	workspace *workspace.Manager
	opts      BriefOptions
	log       *logger.Logger
	now       func() time.Time
}

// NewBriefBuilder creates a builder. taskStatus may be nil.
func NewBriefBuilder(taskStatus tasks.StatusProvider, ws *workspace.Manager, opts BriefOptions, log *logger.Logger) *BriefBuilder {
	if log == nil {
		log = logger.NewNop()
	}
	defaults := DefaultBriefOptions()
	if opts.Budget <= 0 {
		opts.Budget = defaults.Budget
	}
	if opts.MinSection <= 0 {
		opts.MinSection = defaults.MinSection
	}
	if len(opts.LongTermSections) == 0 {
		opts.LongTermSections = defaults.LongTermSections
	}
	return &BriefBuilder{tasks: taskStatus, workspace: ws, opts: opts, log: log, now: time.Now}
}

type sourceFunc func(ctx context.Context) (string, error)

// Build renders the brief. Sections are added in priority order: current
// task, long-term memory, today's daily excerpt, latest summary. A source
// that fails is logged and left out.
func (b *BriefBuilder) Build(ctx context.Context) (*Brief, error) {
	sources := []struct {
		title string
		fn    sourceFunc
	}{
		{"Current Task", b.currentTask},
		{"Long-Term Memory", b.longTerm},
		{"Today So Far", b.today},
		{"Latest Summary", b.latestSummary},
	}

	contents := make([]string, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := src.fn(ctx)
		if err != nil {
			b.log.Warn("Brief section unavailable", zap.String("section", src.title), zap.Error(err))
			continue
		}
		contents[i] = strings.TrimSpace(text)
	}

	brief := &Brief{}
	var sb strings.Builder
	sb.WriteString(briefHeader)
	remaining := b.opts.Budget - tokens.Estimate(briefHeader)

	for i, src := range sources {
		if contents[i] == "" {
			continue
		}
		sec := BriefSection{Title: src.title}
		if remaining < b.opts.MinSection {
			sec.Skipped = true
			brief.Sections = append(brief.Sections, sec)
			continue
		}

		block := "## " + src.title + "\n\n" + contents[i] + "\n\n"
		if tokens.Estimate(block) > remaining {
			block = tokens.Truncate(block, remaining, truncatedMarker)
			sec.Truncated = true
		}
		sec.Tokens = tokens.Estimate(block)
		remaining -= sec.Tokens
		sb.WriteString(block)
		brief.Sections = append(brief.Sections, sec)
	}

	brief.Text = strings.TrimRight(sb.String(), "\n") + "\n"
	if tokens.Estimate(brief.Text) > b.opts.Budget {
		brief.Text = tokens.Truncate(brief.Text, b.opts.Budget, truncatedMarker)
	}
	brief.Tokens = tokens.Estimate(brief.Text)
	return brief, nil
}

func (b *BriefBuilder) currentTask(ctx context.Context) (string, error) {
	if b.tasks == nil {
		return "", nil
	}
	return b.tasks.CurrentStatus(ctx)
}

func (b *BriefBuilder) longTerm(ctx context.Context) (string, error) {
	doc, err := b.workspace.ReadLongTerm()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, title := range b.opts.LongTermSections {
		body, ok := doc.Section(title)
		if !ok {
			continue
		}
		body = meaningful(body)
		if body == "" {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n%s\n\n", title, body)
	}
	return sb.String(), nil
}

// today renders the daily document's hour sections, newest first.
func (b *BriefBuilder) today(ctx context.Context) (string, error) {
	text, err := b.workspace.ReadDaily(b.now())
	if err != nil || text == "" {
		return "", err
	}
	doc := workspace.ParseDocument(text)

	var sb strings.Builder
	for i := len(doc.Sections) - 1; i >= 0; i-- {
		sec := doc.Sections[i]
		topics := workspace.Bullets(workspace.Subsection(sec.Body, "Topics"))
		decisions := workspace.Bullets(workspace.Subsection(sec.Body, "Decisions"))
		actions := workspace.Bullets(workspace.Subsection(sec.Body, "Action Items"))
		if len(topics)+len(decisions)+len(actions) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n", sec.Title)
		if len(topics) > 0 {
			fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(topics, ", "))
		}
		writeItems(&sb, "Decisions", decisions)
		writeItems(&sb, "Action items", actions)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (b *BriefBuilder) latestSummary(ctx context.Context) (string, error) {
	path, err := b.workspace.LatestHourly(b.now())
	if err != nil || path == "" {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading hourly summary: %w", err)
	}
	doc := workspace.ParseDocument(string(data))
	decisionsBody, _ := doc.Section("Decisions")
	actionsBody, _ := doc.Section("Action Items")

	var sb strings.Builder
	writeItems(&sb, "Decisions", workspace.Bullets(decisionsBody))
	writeItems(&sb, "Action items", workspace.Bullets(actionsBody))
	return sb.String(), nil
}

func writeItems(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(label)
	sb.WriteString(":\n")
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}

// meaningful drops HTML comments and italic placeholder lines.
func meaningful(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "<!--") && strings.HasSuffix(trimmed, "-->") {
			continue
		}
		if len(trimmed) > 1 && strings.HasPrefix(trimmed, "_") && strings.HasSuffix(trimmed, "_") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
