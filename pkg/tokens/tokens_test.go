package tokens

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{strings.Repeat("x", 4000), 1000},
	}
	for _, tt := range tests {
		if got := Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(len=%d) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestTruncateFitsBudget(t *testing.T) {
	text := strings.Repeat("memory ", 500)
	out := Truncate(text, 100, "\n[truncated]")
	if Estimate(out) > 100 {
		t.Fatalf("truncated text estimates %d tokens, budget 100", Estimate(out))
	}
	if !strings.HasSuffix(out, "[truncated]") {
		t.Fatalf("expected marker suffix, got %q", out[len(out)-20:])
	}
}

func TestTruncateKeepsShortText(t *testing.T) {
	if got := Truncate("short", 10, "..."); got != "short" {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestTruncateRespectsRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 100)
	out := Truncate(text, 10, "")
	if !strings.HasPrefix(text, out) || len(out)%2 != 0 {
		t.Fatalf("truncation split a rune: %q", out)
	}
}

func TestContentWordsDropsStopwords(t *testing.T) {
	got := ContentWords("What database are we using? The database uses PostgreSQL.")
	want := []string{"database", "database", "postgresql"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestWordsKeepsInnerPunctuation(t *testing.T) {
	got := Words("re-index the go-openai client's batch_size")
	want := []string{"re-index", "the", "go-openai", "client's", "batch_size"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
