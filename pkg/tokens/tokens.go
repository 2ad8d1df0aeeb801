// Package tokens estimates token counts for budgeted text.
//
// The estimate is a fixed characters-per-token heuristic, not a tokenizer.
// Every budget decision in the module goes through Estimate so a real
// tokenizer can replace it without touching call sites.
package tokens

// CharsPerToken is the heuristic ratio used by Estimate.
const CharsPerToken = 4

// Estimate returns the approximate token count of text (len(text) / 4).
func Estimate(text string) int {
	return len(text) / CharsPerToken
}

// Chars returns the number of bytes that fit in a token budget.
func Chars(budget int) int {
	if budget <= 0 {
		return 0
	}
	return budget * CharsPerToken
}

// Truncate cuts text so that Estimate(result) <= budget, appending marker
// when anything was removed. The marker counts against the budget.
func Truncate(text string, budget int, marker string) string {
	if Estimate(text) <= budget {
		return text
	}
	limit := Chars(budget) - len(marker)
	if limit <= 0 {
		return ""
	}
	if limit > len(text) {
		limit = len(text)
	}
	// Step back to a UTF-8 boundary.
	for limit > 0 && limit < len(text) && text[limit]&0xC0 == 0x80 {
		limit--
	}
	return text[:limit] + marker
}
