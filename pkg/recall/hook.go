// Package recall implements the semantic recall hook: before a prompt is
// dispatched, relevant stored context is searched, formatted within a
// token budget and returned for the caller to prepend.
package recall

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/memory"
	"ctxkeep/pkg/tokens"
)

const overflowMarker = "\n[...]\n"

// Searcher is the part of the embedding store the hook needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int, threshold float64) ([]memory.SearchResult, error)
}

// Result is what ProcessPrompt hands back to the runtime. An empty Text
// means nothing should be injected.
type Result struct {
	Text   string `json:"text"`
	Count  int    `json:"count"`
	Tokens int    `json:"tokens"`
}

// Hook runs recall for outgoing prompts.
type Hook struct {
	store   Searcher
	configs *ConfigStore
	injects *InjectionLog
	log     *logger.Logger
}

// NewHook creates a recall hook. injects may be nil to disable logging.
func NewHook(store Searcher, configs *ConfigStore, injects *InjectionLog, log *logger.Logger) *Hook {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hook{store: store, configs: configs, injects: injects, log: log}
}

// Config returns the configuration currently in effect.
func (h *Hook) Config() Config {
	return h.configs.Get()
}

// ProcessPrompt searches for context relevant to prompt and formats it.
// Disabled recall, an excluded session or no relevant results yield an
// empty Result. Search failures are returned.
func (h *Hook) ProcessPrompt(ctx context.Context, prompt, sessionID string) (Result, error) {
	cfg := h.configs.Get()
	if !cfg.Enabled || cfg.Excluded(sessionID) || strings.TrimSpace(prompt) == "" {
		return Result{}, nil
	}

	results, err := h.store.Search(ctx, prompt, cfg.MaxResults*2, cfg.Threshold)
	if err != nil {
		return Result{}, fmt.Errorf("recall search: %w", err)
	}
	if len(results) > cfg.MaxResults {
		results = results[:cfg.MaxResults]
	}
	if len(results) == 0 {
		return Result{}, nil
	}

	results, text := FitBudget(results, cfg)
	res := Result{Text: text, Count: len(results), Tokens: tokens.Estimate(text)}

	if h.injects != nil {
		entry := LogEntry{
			Session:       sessionID,
			Query:         prompt,
			ResultCount:   res.Count,
			TokenEstimate: res.Tokens,
		}
		entry.Sources, entry.SimilarityMin, entry.SimilarityMax = summarize(results)
		if _, err := h.injects.Append(ctx, entry); err != nil {
			h.log.Error("Recall log write failed", zap.Error(err))
		}
	}

	h.log.Debug("Recall injected",
		zap.String("session", sessionID),
		zap.Int("results", res.Count),
		zap.Int("tokens", res.Tokens),
	)
	return res, nil
}

// FitBudget formats results and enforces cfg.MaxTokens with a single
// proportional trim pass. When the kept results still overflow, the text
// is truncated. At least one result is always kept, and budgets below
// MinMaxTokens are raised to it so the kept result carries some text.
func FitBudget(results []memory.SearchResult, cfg Config) ([]memory.SearchResult, string) {
	budget := max(cfg.MaxTokens, MinMaxTokens)
	text := Format(results, cfg)
	estimate := tokens.Estimate(text)
	if estimate <= budget {
		return results, text
	}

	keep := len(results) * budget / estimate
	if keep < 1 {
		keep = 1
	}
	if keep < len(results) {
		results = results[:keep]
		text = Format(results, cfg)
	}
	if tokens.Estimate(text) > budget {
		text = tokens.Truncate(text, budget, overflowMarker)
	}
	return results, text
}

// Format renders results in the configured style, in the given order.
func Format(results []memory.SearchResult, cfg Config) string {
	var sb strings.Builder
	switch cfg.Style {
	case StylePlain:
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n---\n\n")
			}
			sb.WriteString(strings.TrimSpace(r.Text))
			sb.WriteString("\n")
			if cfg.IncludeSources {
				fmt.Fprintf(&sb, "(source: %s)\n", r.Source)
			}
		}
	default:
		sb.WriteString("## Relevant Context\n")
		for i, r := range results {
			sb.WriteString("\n")
			fmt.Fprintf(&sb, "### [%d]", i+1)
			if cfg.IncludeSources && r.Source != "" {
				sb.WriteString(" ")
				sb.WriteString(r.Source)
			}
			if !r.Timestamp.IsZero() {
				fmt.Fprintf(&sb, " (%s)", r.Timestamp.Format("2006-01-02"))
			}
			sb.WriteString("\n")
			sb.WriteString(strings.TrimSpace(r.Text))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func summarize(results []memory.SearchResult) (sources []string, minSim, maxSim float64) {
	seen := make(map[string]bool)
	for i, r := range results {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
		if i == 0 || r.Similarity < minSim {
			minSim = r.Similarity
		}
		if i == 0 || r.Similarity > maxSim {
			maxSim = r.Similarity
		}
	}
	return sources, minSim, maxSim
}
