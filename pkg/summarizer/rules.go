package summarizer

import (
	"regexp"
	"sort"
	"strings"
)

// Kind tags what an extraction rule finds.
type Kind string

const (
	KindDecision Kind = "decision"
	KindAction   Kind = "action"
)

// Rule is one lexical extraction pattern. A match runs from the trigger
// phrase to the end of its sentence.
type Rule struct {
	Kind    Kind
	Pattern *regexp.Regexp
}

// sentenceTail is appended to every trigger phrase.
const sentenceTail = `[^.!?\n]{3,200}`

func phraseRule(kind Kind, phrases ...string) Rule {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return Rule{
		Kind:    kind,
		Pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\s*` + sentenceTail),
	}
}

// DefaultRules returns the built-in decision and action-item rules.
func DefaultRules() []Rule {
	return []Rule{
		phraseRule(KindDecision, "decided to", "we will", "we'll", "going with", "agreed to", "decision:"),
		phraseRule(KindAction, "will need to", "need to", "todo:", "action item:", "should", "next step"),
	}
}

type match struct {
	start, end int
	text       string
}

// Extract runs rules of kind over text and returns matched sentences in
// order of appearance, deduplicated case-insensitively and capped at limit.
// A match inside an earlier accepted match is dropped.
func Extract(text string, rules []Rule, kind Kind, limit int) []string {
	var matches []match
	for _, r := range rules {
		if r.Kind != kind || r.Pattern == nil {
			continue
		}
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, match{start: loc[0], end: loc[1], text: text[loc[0]:loc[1]]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end > matches[j].end
	})

	var (
		out     []string
		seen    = make(map[string]bool)
		lastEnd = -1
	)
	for _, m := range matches {
		if limit > 0 && len(out) >= limit {
			break
		}
		if m.start < lastEnd {
			continue
		}
		item := cleanItem(m.text)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		lastEnd = m.end
		out = append(out, item)
	}
	return out
}

func cleanItem(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, " ,;:-")
}

var toolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool:\s*([\w.\-]+)\]`),
	regexp.MustCompile(`<invoke name="([\w.\-]+)">`),
	regexp.MustCompile(`"tool"\s*:\s*"([\w.\-]+)"`),
	regexp.MustCompile(`Using tool:\s*([\w.\-]+)`),
}

// ToolCount is how often a tool was invoked.
type ToolCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CountTools counts invocation markers in texts, most used first.
func CountTools(texts []string) []ToolCount {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, re := range toolPatterns {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				counts[m[1]]++
			}
		}
	}
	return sortedCounts(counts, 0, func(name string, n int) ToolCount {
		return ToolCount{Name: name, Count: n}
	})
}

// TopicCount is a topic word and its frequency.
type TopicCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Topics returns the k most frequent non-stopword tokens longer than three
// characters. Ties are broken alphabetically.
func Topics(words []string, k int) []TopicCount {
	counts := make(map[string]int)
	for _, w := range words {
		if len([]rune(w)) <= 3 || isNumeric(w) {
			continue
		}
		counts[w]++
	}
	return sortedCounts(counts, k, func(word string, n int) TopicCount {
		return TopicCount{Word: word, Count: n}
	})
}

func sortedCounts[T any](counts map[string]int, k int, mk func(string, int) T) []T {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if k > 0 && len(keys) > k {
		keys = keys[:k]
	}
	out := make([]T, len(keys))
	for i, key := range keys {
		out[i] = mk(key, counts[key])
	}
	return out
}

func isNumeric(w string) bool {
	for _, r := range w {
		if (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
