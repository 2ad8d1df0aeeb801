package memory

import "unicode/utf8"

// Span is a half-open byte range [Start, End) of a source text.
type Span struct {
	Start int
	End   int
}

// Chunker splits text into overlapping fixed-size spans.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker, falling back to 512/128 for invalid sizes.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns spans covering text with no gaps. Text shorter than Size is
// one span. Consecutive spans share Overlap bytes. A trailing span shorter
// than Size/3 is not emitted; the previous span is extended to the end of
// text instead. Boundaries never split a UTF-8 sequence, which can widen an
// overlap by up to three bytes for non-ASCII text.
func (c Chunker) Split(text string) []Span {
	n := len(text)
	if n == 0 {
		return nil
	}
	if n < c.Size {
		return []Span{{Start: 0, End: n}}
	}

	minTail := c.Size / 3
	var spans []Span
	start := 0
	for {
		end := start + c.Size
		if end >= n {
			spans = append(spans, Span{Start: start, End: n})
			break
		}
		end = runeStart(text, end)

		next := runeStart(text, end-c.Overlap)
		if next <= start {
			next = end
		}
		if n-next < minTail {
			spans = append(spans, Span{Start: start, End: n})
			break
		}

		spans = append(spans, Span{Start: start, End: end})
		start = next
	}
	return spans
}

// runeStart moves i back to the first byte of the rune containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
