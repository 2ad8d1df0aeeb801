package workspace

import (
	"strings"
)

// Section is a "## Title" block of a markdown document. Body holds every
// line after the header up to the next level-2 header, verbatim.
type Section struct {
	Title string
	Body  string
}

// Document is a markdown file split at level-2 headers. String() of a
// parsed document reproduces the input byte for byte.
type Document struct {
	Preamble string
	Sections []Section
}

// ParseDocument splits text at "## " headers. Deeper headers stay in the
// enclosing section's body.
func ParseDocument(text string) *Document {
	doc := &Document{}
	var body strings.Builder
	current := -1

	flush := func() {
		if current < 0 {
			doc.Preamble = body.String()
		} else {
			doc.Sections[current].Body = body.String()
		}
		body.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if title, ok := sectionTitle(line); ok {
			flush()
			doc.Sections = append(doc.Sections, Section{Title: title})
			current = len(doc.Sections) - 1
			continue
		}
		body.WriteString(line)
	}
	flush()
	return doc
}

func sectionTitle(line string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	return strings.TrimSpace(trimmed[3:]), true
}

// String renders the document.
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteString(d.Preamble)
	for _, s := range d.Sections {
		sb.WriteString("## ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}

// Index returns the position of the section titled title (case-insensitive),
// or -1.
func (d *Document) Index(title string) int {
	for i, s := range d.Sections {
		if strings.EqualFold(s.Title, title) {
			return i
		}
	}
	return -1
}

// Section returns the trimmed body of the titled section.
func (d *Document) Section(title string) (string, bool) {
	i := d.Index(title)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(d.Sections[i].Body), true
}

// SectionMap returns trimmed section bodies keyed by title.
func (d *Document) SectionMap() map[string]string {
	out := make(map[string]string, len(d.Sections))
	for _, s := range d.Sections {
		out[s.Title] = strings.TrimSpace(s.Body)
	}
	return out
}

// SetSection replaces the body of the titled section, appending the
// section when absent.
func (d *Document) SetSection(title, body string) {
	if i := d.Index(title); i >= 0 {
		d.Sections[i].Body = body
		return
	}
	d.Insert(len(d.Sections), Section{Title: title, Body: body})
}

// Insert places s at position i.
func (d *Document) Insert(i int, s Section) {
	if i < 0 {
		i = 0
	}
	if i > len(d.Sections) {
		i = len(d.Sections)
	}
	if i == len(d.Sections) {
		d.ensureTrailingBlankLine(i - 1)
	}
	d.Sections = append(d.Sections, Section{})
	copy(d.Sections[i+1:], d.Sections[i:])
	d.Sections[i] = s
}

// ensureTrailingBlankLine keeps a blank line before a newly appended header.
func (d *Document) ensureTrailingBlankLine(i int) {
	target := &d.Preamble
	if i >= 0 {
		target = &d.Sections[i].Body
	}
	if *target == "" {
		return
	}
	if !strings.HasSuffix(*target, "\n") {
		*target += "\n"
	}
	if !strings.HasSuffix(*target, "\n\n") {
		*target += "\n"
	}
}

// Bullets returns the "- item" lines of body without their markers.
// Placeholder lines in italics are ignored.
func Bullets(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
			continue
		}
		item := strings.TrimSpace(line[2:])
		if item == "" || item == "_none_" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Subsection returns the body of a "### Title" block inside a section body.
func Subsection(body, title string) string {
	var sb strings.Builder
	in := false
	for _, line := range strings.SplitAfter(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### ") {
			in = strings.EqualFold(strings.TrimSpace(trimmed[4:]), title)
			continue
		}
		if in {
			sb.WriteString(line)
		}
	}
	return sb.String()
}
