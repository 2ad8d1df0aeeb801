package tokens

import (
	"strings"
	"unicode"
)

// stopwords are dropped before topic counting and hash embedding.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all also am an and any are as at
		be because been before being below between both but by can could
		did do does doing done down during each else even ever every few
		for from further get gets getting got had has have having he her
		here hers herself him himself his how however i if in into is it
		its itself just let like made make many may me might more most
		much must my myself need no nor not now of off on once one only or
		other our ours ourselves out over own per please same she should
		so some still such than that the their theirs them themselves then
		there these they thing things this those through to too under
		until up upon us use used uses using very via was way we well were
		what when where which while who whom why will with within without
		would yes yet you your yours yourself yourselves
		user assistant system
		don't i'm i'll it's that's there's we're we'll you're let's
	`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the lowercased word is on the stopword list.
func IsStopword(word string) bool {
	_, ok := stopwords[strings.ToLower(word)]
	return ok
}

// Words splits text into lowercased word tokens. Letters, digits,
// apostrophes, underscores and hyphens inside a word are kept.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '_' || r == '-')
	})
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-_")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

// ContentWords returns Words(text) without stopwords.
func ContentWords(text string) []string {
	var out []string
	for _, w := range Words(text) {
		if !IsStopword(w) {
			out = append(out, w)
		}
	}
	return out
}
